package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"bussid/internal/domain"
)

const entryExt = ".entry"

// FileStorage はディレクトリ単位でストアを保持するキャッシュストレージ.
// ストア名ごとにサブディレクトリを作り, エントリを1ファイルずつ保存する.
type FileStorage struct {
	mu      sync.RWMutex
	baseDir string
}

// Verify interface implementation
var _ domain.CacheStorage = (*FileStorage)(nil)

// NewFileStorage は新しいFileStorageインスタンスを作成
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", baseDir, err)
	}
	return &FileStorage{baseDir: baseDir}, nil
}

// Open はストアを開く. 存在しない場合は作成する.
func (s *FileStorage) Open(ctx context.Context, name string) (domain.Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.storeDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &domain.ErrStoreOpen{Name: name, Err: err}
	}

	return &fileCache{storage: s, name: name, dir: dir}, nil
}

// Delete はストアとその全エントリを削除
func (s *FileStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.storeDir(name)
	exists, err := dirExists(dir)
	if err != nil || !exists {
		return false, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to delete cache store %s: %w", name, err)
	}
	return true, nil
}

// Keys は全ストア名を返す
func (s *FileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache stores: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStorage) storeDir(name string) string {
	return filepath.Join(s.baseDir, url.PathEscape(name))
}

// fileCache は FileStorage 内の1つのストア.
type fileCache struct {
	storage *FileStorage
	name    string
	dir     string
}

func (c *fileCache) Name() string {
	return c.name
}

func (c *fileCache) Match(
	ctx context.Context, req *domain.Request,
) (*domain.Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	data, err := os.ReadFile(c.entryPath(req.Key()))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return nil, false, err
	}
	if !entry.Matches(req) {
		return nil, false, nil
	}
	return entry.Response(), true, nil
}

func (c *fileCache) Put(
	ctx context.Context, req *domain.Request, resp *domain.Response,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeEntry(domain.NewCacheEntry(req, resp))
	if err != nil {
		return err
	}

	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	// 削除済みのストアを書き込みで復活させない
	if exists, err := dirExists(c.dir); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("%w: %s", domain.ErrStoreNotFound, c.name)
	}

	path := c.entryPath(req.Key())
	tmp, err := os.CreateTemp(c.dir, ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c *fileCache) Delete(ctx context.Context, req *domain.Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	if err := os.Remove(c.entryPath(req.Key())); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *fileCache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	files, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrStoreNotFound, c.name)
		}
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), entryExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, f.Name()))
		if err != nil {
			continue
		}
		entry, err := decodeEntry(data)
		if err != nil {
			continue
		}
		keys = append(keys, entry.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *fileCache) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+entryExt)
}

func dirExists(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
