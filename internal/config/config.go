// Package config はワーカーホストの設定を読み込む.
//
// 優先順位(高い順):
//  1. コマンドラインフラグ
//  2. 環境変数 (BUSSID_*)
//  3. 設定ファイル (YAML)
//  4. デフォルト値
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bussid/internal/domain"
	"bussid/internal/interface/repository/cache"
	"bussid/internal/interface/repository/logger"
)

// EnvPrefix は環境変数の接頭辞.
const EnvPrefix = "BUSSID"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config はワーカーホスト全体の設定.
type Config struct {
	Worker  WorkerConfig  `mapstructure:"worker"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Live    LiveConfig    `mapstructure:"live"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Network NetworkConfig `mapstructure:"network"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// WorkerConfig はワーカースクリプトと世代の設定.
type WorkerConfig struct {
	ScriptURL  string `mapstructure:"script_url" validate:"required,url"`
	Generation string `mapstructure:"generation" validate:"required,printascii"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" validate:"required"`
	Admin  string `mapstructure:"admin" validate:"required"`
}

// StorageConfig はキャッシュストアのバックエンド設定.
type StorageConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=badger file memory"`
	Dir     string `mapstructure:"dir" validate:"required_unless=Backend memory"`
}

type LiveConfig struct {
	File  string `mapstructure:"file" validate:"required"`
	Watch bool   `mapstructure:"watch"`
}

type LoggingConfig struct {
	Dir    string `mapstructure:"dir"`
	File   string `mapstructure:"file"`
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN WARNING ERROR debug info warn warning error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

type MetricsConfig struct {
	File         string        `mapstructure:"file"`
	SaveInterval time.Duration `mapstructure:"save_interval" validate:"gte=0"`
}

type NetworkConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" validate:"required,gt=0"`
	MaxBodySize int64         `mapstructure:"max_body_size" validate:"gt=0"`
}

// flagKeys はフラグ名と設定キーの対応.
var flagKeys = map[string]string{
	"script-url":    "worker.script_url",
	"generation":    "worker.generation",
	"listen":        "server.listen",
	"admin":         "server.admin",
	"storage":       "storage.backend",
	"cache-dir":     "storage.dir",
	"live-file":     "live.file",
	"log-dir":       "logging.dir",
	"log-level":     "logging.level",
	"log-format":    "logging.format",
	"metrics-file":  "metrics.file",
	"fetch-timeout": "network.timeout",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.script_url", "")
	v.SetDefault("worker.generation", domain.DefaultGeneration)
	v.SetDefault("server.listen", ":10080")
	v.SetDefault("server.admin", ":10081")
	v.SetDefault("storage.backend", cache.BackendBadger)
	v.SetDefault("storage.dir", "./cache")
	v.SetDefault("live.file", "./configs/live.yaml")
	v.SetDefault("live.watch", true)
	v.SetDefault("logging.dir", "./logs")
	v.SetDefault("logging.file", "bussid.log")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logger.FormatText)
	v.SetDefault("metrics.file", "./logs/metrics.json")
	v.SetDefault("metrics.save_interval", time.Minute)
	v.SetDefault("network.timeout", 30*time.Second)
	v.SetDefault("network.max_body_size", int64(32*1024*1024))
	v.SetDefault("shutdown_timeout", 30*time.Second)
}

// Load は設定ファイル, 環境変数, フラグから設定を読み込む.
// configPath が空の場合は作業ディレクトリの bussid.yaml を探し, 無ければデフォルトを使う.
// flags は nil でもよい.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := read(configPath, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadOffline はワーカーを起動しない保守コマンド用に設定を読み込む.
// 検証するのはストレージ設定だけで, worker.script_url は要求しない.
func LoadOffline(configPath string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := read(configPath, flags)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(&cfg.Storage); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func read(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("bussid")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		// 明示されたファイルが無い場合はエラー, 探索で見つからない場合はデフォルト
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !(errors.As(err, &notFound) || os.IsNotExist(err)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate は設定値を検証する.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if strings.TrimSpace(c.Worker.Generation) == "" {
		return errors.New("worker.generation must not be blank")
	}
	if _, err := domain.NewScope(c.Worker.ScriptURL); err != nil {
		return fmt.Errorf("worker.script_url: %w", err)
	}
	if err := c.checkOriginLoop(); err != nil {
		return err
	}
	return nil
}

// checkOriginLoop はスコープの配信元がワーカーの前段自身を指していないか確認する.
// 指していると横取りしなかったリクエストが前段へ戻り続ける.
func (c *Config) checkOriginLoop() error {
	u, err := url.Parse(c.Worker.ScriptURL)
	if err != nil {
		return fmt.Errorf("worker.script_url: %w", err)
	}
	originPort := u.Port()
	if originPort == "" {
		switch u.Scheme {
		case "https":
			originPort = "443"
		default:
			originPort = "80"
		}
	}

	listenHost, listenPort, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return fmt.Errorf("server.listen: %w", err)
	}
	if listenPort != originPort {
		return nil
	}

	originHost := u.Hostname()
	same := strings.EqualFold(originHost, listenHost) ||
		(isWildcard(listenHost) || isLocal(listenHost)) && isLocal(originHost)
	if same {
		return fmt.Errorf("worker.script_url origin %s must differ from server.listen %s",
			u.Host, c.Server.Listen)
	}
	return nil
}

func isWildcard(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}

func isLocal(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Scope はスクリプトURLから導出したスコープを返す.
func (c *Config) Scope() domain.Scope {
	// Validate 済みのためエラーにはならない
	s, _ := domain.NewScope(c.Worker.ScriptURL)
	return s
}
