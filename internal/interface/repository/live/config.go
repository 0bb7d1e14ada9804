package live

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFragments は常にネットワークへ送る外部APIのホスト.
// 経路検索API, 地図タイル, 逆ジオコーディングの順.
var DefaultFragments = []string{
	"api.digitransit.fi",
	"tile.openstreetmap.org",
	"nominatim.openstreetmap.org",
}

type liveConfig struct {
	Hosts []string `yaml:"live_hosts"`
}

func loadConfigFile(path string) (*liveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createDefaultConfig(path)
		}
		return nil, err
	}

	var config liveConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func createDefaultConfig(path string) (*liveConfig, error) {
	config := &liveConfig{
		Hosts: append([]string(nil), DefaultFragments...),
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}

	return config, nil
}

// prepare は設定データを正規化する
func (c *liveConfig) prepare() []string {
	seen := make(map[string]bool)
	var hosts []string

	for _, h := range c.Hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, "*.")
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		hosts = append(hosts, h)
	}

	return hosts
}
