package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bussid/internal/domain"
	"bussid/internal/interface/repository/metrics"
)

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{})        {}
func (nopLogger) Info(string, map[string]interface{})         {}
func (nopLogger) Warn(string, map[string]interface{})         {}
func (nopLogger) Error(string, error, map[string]interface{}) {}

func TestHub_ClaimControlsConnectedClients(t *testing.T) {
	ctx := context.Background()
	h := NewHub(metrics.New(""), nopLogger{})

	a := h.Connect("https://bussid.example/app/")
	b := h.Connect("https://bussid.example/app/?stop=12")

	list, err := h.MatchAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "uncontrolled pages are not matched")

	require.NoError(t, h.Claim(ctx, "1.2.3"))

	list, err = h.MatchAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.Generation("1.2.3"), a.Controller())
	assert.Equal(t, domain.Generation("1.2.3"), b.Controller())

	// 後から開かれたページは現在の制御ワーカーの下に入る
	c := h.Connect("https://bussid.example/app/map")
	assert.Equal(t, domain.Generation("1.2.3"), c.Controller())
}

func TestHub_PostMessage(t *testing.T) {
	ctx := context.Background()
	m := metrics.New("")
	h := NewHub(m, nopLogger{})

	c := h.Connect("https://bussid.example/app/")
	assert.Equal(t, int64(1), m.GetSnapshot().CurrentClients)

	require.NoError(t, c.PostMessage(ctx, domain.ForceReload("1.2.3")))
	select {
	case msg := <-c.Messages():
		assert.Equal(t, domain.Message{Type: "FORCE_RELOAD", Version: "1.2.3"}, msg)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	h.Disconnect(c)
	h.Disconnect(c)
	assert.Equal(t, int64(0), m.GetSnapshot().CurrentClients)

	err := c.PostMessage(ctx, domain.ForceReload("1.2.3"))
	assert.True(t, errors.Is(err, domain.ErrClientGone))
}

func TestClient_PostMessageFullQueueFailsFast(t *testing.T) {
	h := NewHub(metrics.New(""), nopLogger{})
	c := h.Connect("https://bussid.example/app/")

	for i := 0; i < defaultBuffer; i++ {
		require.NoError(t, c.PostMessage(context.Background(), domain.ForceReload("1.2.3")))
	}

	// 読み出されないページでも送信側は待たされない
	done := make(chan error, 1)
	go func() {
		done <- c.PostMessage(context.Background(), domain.ForceReload("1.2.3"))
	}()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, domain.ErrClientBacklog))
	case <-time.After(time.Second):
		t.Fatal("PostMessage blocked on a full queue")
	}
	assert.Len(t, c.Messages(), defaultBuffer)
}

func TestClient_PostMessageCancelledContext(t *testing.T) {
	h := NewHub(metrics.New(""), nopLogger{})
	c := h.Connect("https://bussid.example/app/")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.PostMessage(ctx, domain.ForceReload("1.2.3"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, c.Messages())
}
