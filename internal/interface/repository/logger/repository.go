package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bussid/internal/domain"
)

// Config はロガーの設定を表す.
type Config struct {
	Dir      string // 空の場合は標準エラー出力
	Filename string
	Level    string // DEBUG, INFO, WARN, ERROR
	Format   string // text, json
	Rotation *RotationConfig
}

// Repository はロガーのリポジトリ実装.
// slogハンドラーで整形し, ファイル出力の場合はサイズでローテーションする.
type Repository struct {
	mu      sync.Mutex
	file    *os.File
	out     io.Writer
	config  *RotationConfig
	path    string
	slogger *slog.Logger
	done    chan struct{}
}

// Verify interface implementation.
var _ domain.Logger = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成.
func New(cfg Config) (*Repository, error) {
	r := &Repository{
		config: cfg.Rotation,
		done:   make(chan struct{}),
	}
	if r.config == nil {
		r.config = DefaultRotationConfig()
	}

	if cfg.Dir == "" {
		r.out = os.Stderr
	} else {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		filename := cfg.Filename
		if filename == "" {
			filename = "worker.log"
		}
		r.path = filepath.Join(cfg.Dir, filename)

		file, err := openLogFile(r.path)
		if err != nil {
			return nil, err
		}
		r.file = file
		r.out = file

		// ログクリーンアップを定期的に実行
		go r.periodicCleanup()
	}

	r.slogger = slog.New(newHandler(r, cfg.Format, ParseLevel(cfg.Level)))
	return r, nil
}

// NewWithWriter は任意の出力先へ書き込むロガーを作成. ローテーションは行わない.
func NewWithWriter(w io.Writer, level, format string) *Repository {
	r := &Repository{
		out:    w,
		config: &RotationConfig{},
		done:   make(chan struct{}),
	}
	r.slogger = slog.New(newHandler(r, format, ParseLevel(level)))
	return r
}

// Debug はDEBUGレベルのログを記録.
func (r *Repository) Debug(msg string, fields map[string]interface{}) {
	r.log(slog.LevelDebug, msg, nil, fields)
}

// Info はINFOレベルのログを記録.
func (r *Repository) Info(msg string, fields map[string]interface{}) {
	r.log(slog.LevelInfo, msg, nil, fields)
}

// Warn はWARNレベルのログを記録.
func (r *Repository) Warn(msg string, fields map[string]interface{}) {
	r.log(slog.LevelWarn, msg, nil, fields)
}

// Error はERRORレベルのログを記録.
func (r *Repository) Error(
	msg string, err error, fields map[string]interface{},
) {
	r.log(slog.LevelError, msg, err, fields)
}

// Slog は内部のslog.Loggerを返す.
func (r *Repository) Slog() *slog.Logger {
	return r.slogger
}

func (r *Repository) log(
	level slog.Level, msg string, err error, fields map[string]interface{},
) {
	r.slogger.Log(context.Background(), level, msg, fieldsToAttrs(err, fields)...)
}

// Write はハンドラーからの1レコードを書き込む. 必要ならローテーションする.
func (r *Repository) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		if needs, err := needsRotation(r.file, r.config.MaxSize); err == nil && needs {
			if err := r.rotate(); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to rotate log: %v\n", err)
			}
		}
	}

	n, err := r.out.Write(p)
	if err != nil {
		// エラーが発生した場合は標準エラー出力に書き込み.
		fmt.Fprintf(os.Stderr, "Failed to write log: %v\n", err)
	}
	return n, err
}

// rotate はログファイルをローテーション. r.mu を保持して呼ぶ.
func (r *Repository) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}

	if err := rotateFile(r.path); err != nil {
		return err
	}

	file, err := openLogFile(r.path)
	if err != nil {
		return err
	}

	r.file = file
	r.out = file
	return nil
}

// periodicCleanup は定期的に古いログファイルを削除.
func (r *Repository) periodicCleanup() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleanOldLogs(r.path, r.config)
		case <-r.done:
			return
		}
	}
}

// Close はロガーのリソースを解放.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	default:
		close(r.done)
	}

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}
