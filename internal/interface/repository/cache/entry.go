package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"bussid/internal/domain"
)

// compressThreshold を超えるエントリは圧縮を試みる.
const compressThreshold = 1024

// gzipMagic はgzipストリームの先頭2バイト.
var gzipMagic = []byte{0x1f, 0x8b}

// encodeEntry はエントリをJSONに変換し, 大きなデータの場合は圧縮する.
func encodeEntry(e *domain.CacheEntry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if len(data) > compressThreshold {
		if compData, err := compress(data); err == nil && len(compData) < len(data) {
			return compData, nil
		}
	}

	return data, nil
}

// decodeEntry は encodeEntry の逆変換.
func decodeEntry(data []byte) (*domain.CacheEntry, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		var err error
		data, err = decompress(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress cache entry: %w", err)
		}
	}

	var e domain.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &e, nil
}

// compress はデータをgzip圧縮する
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	if _, err := gz.Write(data); err != nil {
		return nil, err
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decompress はgzip圧縮されたデータを展開する
func decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}
