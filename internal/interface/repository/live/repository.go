package live

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"bussid/internal/domain"
)

// Repository は常時ライブのエンドポイント一覧を保持する.
// ホスト名が一覧のホストと一致するか, そのサブドメインである場合にライブとみなす.
// パス部分は照合しない.
type Repository struct {
	mu         sync.RWMutex
	configFile string
	hosts      map[string]bool
	ordered    []string
	logger     domain.Logger
}

var _ domain.LiveEndpoints = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成.
// configFile が空の場合は DefaultFragments のみを使う.
func New(configFile string, logger domain.Logger) (*Repository, error) {
	r := &Repository{
		configFile: configFile,
		logger:     logger,
	}
	r.set(DefaultFragments)

	if configFile == "" {
		return r, nil
	}

	if err := r.loadConfig(); err != nil {
		return nil, err
	}
	return r, nil
}

// IsLive は u のホストが常時ライブのエンドポイントかどうかを返す
func (r *Repository) IsLive(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.hosts[host] {
		return true
	}

	// サブドメインのチェック
	parts := strings.Split(host, ".")
	for i := 1; i < len(parts)-1; i++ {
		if r.hosts[strings.Join(parts[i:], ".")] {
			return true
		}
	}

	return false
}

// Fragments は現在のホスト一覧を返す
func (r *Repository) Fragments() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.ordered...)
}

// Reload は設定を再読み込み
func (r *Repository) Reload() error {
	if r.configFile == "" {
		return nil
	}
	return r.loadConfig()
}

// Watch は設定ファイルの変更を監視し, 変更があれば再読み込みする.
// ctx が終了するまで戻らない.
func (r *Repository) Watch(ctx context.Context) error {
	if r.configFile == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// エディタはリネームで保存することがあるため, ディレクトリを監視する
	if err := watcher.Add(filepath.Dir(r.configFile)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", r.configFile, err)
	}

	target := filepath.Clean(r.configFile)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := r.loadConfig(); err != nil {
				r.logger.Error("Error reloading live hosts", err, map[string]interface{}{
					"file": r.configFile,
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("Live hosts watcher error", err, nil)
		}
	}
}

// loadConfig は設定ファイルから設定を読み込む
func (r *Repository) loadConfig() error {
	config, err := loadConfigFile(r.configFile)
	if err != nil {
		return fmt.Errorf("failed to load live hosts from %s: %w", r.configFile, err)
	}

	hosts := config.prepare()
	r.set(hosts)

	r.logger.Info("Loaded live hosts", map[string]interface{}{
		"file":  r.configFile,
		"hosts": hosts,
	})
	return nil
}

func (r *Repository) set(hosts []string) {
	m := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		m[h] = true
	}

	r.mu.Lock()
	r.hosts = m
	r.ordered = append([]string(nil), hosts...)
	r.mu.Unlock()
}
