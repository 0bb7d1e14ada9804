package usecase

import (
	"context"
	"fmt"
	"sync"

	"bussid/internal/domain"
)

// RegisterResult は世代登録の結果を表す.
type RegisterResult struct {
	Generation string            `json:"generation"`
	Unchanged  bool              `json:"unchanged"`
	Install    *InstallReport    `json:"install,omitempty"`
	Activation *ActivationReport `json:"activation,omitempty"`
}

// RegistrationStatus はレジストレーションの現在の状態を表す.
type RegistrationStatus struct {
	Active string `json:"active,omitempty"`
	State  string `json:"state,omitempty"`
}

// Registration はアクティブなワーカーを保持し, 世代の入れ替えを調整する.
type Registration struct {
	// deploy は Register の同時実行を直列化する
	deploy sync.Mutex
	mu     sync.RWMutex
	host   domain.Host
	active *Worker
	logger domain.Logger
}

// NewRegistration は新しいRegistrationインスタンスを作成
func NewRegistration(host domain.Host) *Registration {
	return &Registration{
		host:   host,
		logger: host.Logger,
	}
}

// Register は世代 g のワーカーをインストールし, アクティベートする.
// 同じ世代が既にアクティブな場合は何もしない.
// インストール完了前に ctx が終わった場合は入れ替えずに中断する.
// 入れ替え後のアクティベートは ctx のキャンセルに影響されない.
func (r *Registration) Register(
	ctx context.Context, g domain.Generation,
) (*RegisterResult, error) {
	r.deploy.Lock()
	defer r.deploy.Unlock()

	result := &RegisterResult{Generation: g.String()}

	prev := r.Active()
	if prev != nil && prev.Generation() == g {
		result.Unchanged = true
		return result, nil
	}

	w := NewWorker(g, r.host)
	install, err := w.Install(ctx)
	result.Install = install
	if err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		w.Retire()
		r.logger.Warn("Install interrupted, keeping previous worker", map[string]interface{}{
			"generation": g.String(),
			"error":      err.Error(),
		})
		return result, fmt.Errorf("install %s: %w", g, err)
	}

	r.logger.Debug("Worker installed", map[string]interface{}{
		"generation":   g.String(),
		"skip_waiting": w.SkipWaitingRequested(),
	})

	// 旧ワーカーを先に退かせ, アクティベート中のリクエストは新ワーカーで待たせる
	r.swap(prev, w)

	activation, err := w.Activate(context.WithoutCancel(ctx))
	result.Activation = activation
	if err != nil {
		return result, err
	}

	return result, nil
}

// Fetch はアクティブなワーカーへリクエストを渡す.
// 処理中は読み取りロックを保持し, 旧ワーカーの退役は処理中のリクエストの完了を待つ.
func (r *Registration) Fetch(ctx context.Context, req *domain.Request) (*Outcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w := r.current()
	if w == nil {
		return &Outcome{Decision: DecisionNotActive}, nil
	}
	return w.Fetch(ctx, req)
}

// Active はアクティブ(またはアクティベート中)のワーカーを返す.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current()
}

// Status は現在の状態を返す.
func (r *Registration) Status() RegistrationStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var st RegistrationStatus
	if w := r.current(); w != nil {
		st.Active = w.Generation().String()
		st.State = w.State().String()
	}
	return st
}

// current は r.mu を保持した状態で呼ぶ.
func (r *Registration) current() *Worker {
	if r.active == nil || r.active.State() == StateRedundant {
		return nil
	}
	return r.active
}

func (r *Registration) swap(prev, next *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev != nil {
		prev.Retire()
	}
	r.active = next
}
