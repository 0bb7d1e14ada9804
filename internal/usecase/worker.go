package usecase

import (
	"context"
	"fmt"
	"sync"

	"bussid/internal/domain"
)

// State はワーカー成果物のライフサイクル状態を表す.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Worker は1世代分のワーカーインスタンス.
// Installer, Router, Activator をライフサイクルイベントで駆動する.
type Worker struct {
	mu          sync.RWMutex
	generation  domain.Generation
	state       State
	skipWaiting bool
	activated   chan struct{}

	installer *Installer
	router    *Router
	activator *Activator
	logger    domain.Logger
}

// NewWorker は新しいWorkerインスタンスを作成
func NewWorker(generation domain.Generation, host domain.Host) *Worker {
	w := &Worker{
		generation: generation,
		state:      StateParsed,
		activated:  make(chan struct{}),
		router:     NewRouter(generation, host),
		activator:  NewActivator(generation, host),
		logger:     host.Logger,
	}
	w.installer = NewInstaller(generation, host, w)
	return w
}

// Generation はワーカーの世代タグを返す.
func (w *Worker) Generation() domain.Generation {
	return w.generation
}

// State は現在の状態を返す.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SkipWaiting は待機をせずに昇格するよう要求する.
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
}

// SkipWaitingRequested は待機スキップが要求済みかどうか.
func (w *Worker) SkipWaitingRequested() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

// Install はインストールイベントを処理する.
func (w *Worker) Install(ctx context.Context) (*InstallReport, error) {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return nil, err
	}

	report := w.installer.Install(ctx)

	if err := w.transition(StateInstalling, StateInstalled); err != nil {
		return report, err
	}
	return report, nil
}

// Activate はアクティベートイベントを処理する.
func (w *Worker) Activate(ctx context.Context) (*ActivationReport, error) {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return nil, err
	}
	// 途中で退役しても待機中のリクエストを解放する
	defer close(w.activated)

	report := w.activator.Activate(ctx)

	if err := w.transition(StateActivating, StateActive); err != nil {
		return report, err
	}
	return report, nil
}

// Retire はワーカーを冗長状態にする. 以後リクエストは横取りしない.
func (w *Worker) Retire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateRedundant {
		return
	}
	w.logger.Info("Worker retired", map[string]interface{}{
		"generation": w.generation.String(),
		"from":       w.state.String(),
	})
	w.state = StateRedundant
}

// Fetch は制御下のページから発行されたリクエストを処理する.
// アクティベート中のリクエストは完了まで待機させる.
func (w *Worker) Fetch(ctx context.Context, req *domain.Request) (*Outcome, error) {
	switch w.State() {
	case StateActive:
	case StateActivating:
		select {
		case <-w.activated:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if w.State() != StateActive {
			return &Outcome{Decision: DecisionNotActive}, nil
		}
	default:
		return &Outcome{Decision: DecisionNotActive}, nil
	}

	return w.router.Handle(ctx, req)
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != from {
		return fmt.Errorf("%w: %s -> %s (current %s)",
			domain.ErrInvalidTransition, from, to, w.state)
	}
	w.state = to
	return nil
}
