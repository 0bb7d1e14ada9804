package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"bussid/internal/domain"
)

// キー空間:
//
//	s/<store>            -> 作成時刻 (RFC3339)
//	e/<store>\x00<key>   -> エンコード済みエントリ
const (
	storePrefix = "s/"
	entryPrefix = "e/"
)

// BadgerStorage はBadgerDBに保存するキャッシュストレージ.
type BadgerStorage struct {
	db *badger.DB
}

// Verify interface implementation
var _ domain.CacheStorage = (*BadgerStorage)(nil)

// NewBadgerStorage は新しいBadgerStorageインスタンスを作成.
// path が空の場合はメモリ上にのみ保持する.
func NewBadgerStorage(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache storage: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

// Close はデータベースを閉じる
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

func (s *BadgerStorage) Open(ctx context.Context, name string) (domain.Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyStore(name))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(keyStore(name), []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return nil, &domain.ErrStoreOpen{Name: name, Err: err}
	}

	return &badgerCache{db: s.db, name: name}, nil
}

// Delete はストアの登録と配下の全エントリを1トランザクションで削除する.
func (s *BadgerStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var existed bool
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyStore(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true

		prefix := keyEntryPrefix(name)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)

		var keysToDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keysToDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return txn.Delete(keyStore(name))
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete cache store %s: %w", name, err)
	}
	return existed, nil
}

func (s *BadgerStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(storePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			names = append(names, string(it.Item().Key()[len(storePrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cache stores: %w", err)
	}

	sort.Strings(names)
	return names, nil
}

// badgerCache は BadgerStorage 内の1つのストア.
type badgerCache struct {
	db   *badger.DB
	name string
}

func (c *badgerCache) Name() string {
	return c.name
}

func (c *badgerCache) Match(
	ctx context.Context, req *domain.Request,
) (*domain.Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var entry *domain.CacheEntry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyEntry(c.name, req.Key()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			var decErr error
			entry, decErr = decodeEntry(val)
			return decErr
		})
	})
	if err != nil {
		return nil, false, err
	}

	if entry == nil || !entry.Matches(req) {
		return nil, false, nil
	}
	return entry.Response(), true, nil
}

func (c *badgerCache) Put(
	ctx context.Context, req *domain.Request, resp *domain.Response,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeEntry(domain.NewCacheEntry(req, resp))
	if err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		// 削除済みのストアを書き込みで復活させない
		if _, err := txn.Get(keyStore(c.name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrStoreNotFound, c.name)
			}
			return err
		}
		return txn.Set(keyEntry(c.name, req.Key()), data)
	})
}

func (c *badgerCache) Delete(ctx context.Context, req *domain.Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var existed bool
	err := c.db.Update(func(txn *badger.Txn) error {
		key := keyEntry(c.name, req.Key())
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(key)
	})
	return existed, err
}

func (c *badgerCache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := c.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyStore(c.name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrStoreNotFound, c.name)
			}
			return err
		}

		prefix := keyEntryPrefix(c.name)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

func keyStore(name string) []byte {
	return []byte(storePrefix + name)
}

func keyEntryPrefix(name string) []byte {
	return []byte(entryPrefix + name + "\x00")
}

func keyEntry(name, key string) []byte {
	return append(keyEntryPrefix(name), key...)
}
