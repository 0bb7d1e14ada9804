package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bussid/internal/domain"
)

func TestFetcher_ResponseType(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/index.html":
			w.Write([]byte("shell"))
		case "/app/missing":
			http.NotFound(w, r)
		}
	}))
	defer origin.Close()

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cors.js" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Write([]byte("asset"))
	}))
	defer cdn.Close()

	scope, err := domain.NewScope(origin.URL + "/app/sw.js")
	require.NoError(t, err)
	f := NewFetcher(scope, 5*time.Second)

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantType   domain.ResponseType
	}{
		{"same origin", origin.URL + "/app/index.html", http.StatusOK, domain.ResponseBasic},
		{"same origin not found", origin.URL + "/app/missing", http.StatusNotFound, domain.ResponseBasic},
		{"cross origin cors", cdn.URL + "/cors.js", http.StatusOK, domain.ResponseCORS},
		{"cross origin opaque", cdn.URL + "/lib.js", http.StatusOK, domain.ResponseOpaque},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := domain.NewRequest(http.MethodGet, tt.url)
			require.NoError(t, err)

			resp, err := f.Fetch(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantType, resp.Type)
			assert.Equal(t, tt.url, resp.URL)
		})
	}
}

func TestFetcher_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/app/index.html"
	srv.Close()

	scope, err := domain.NewScope(url)
	require.NoError(t, err)

	req, err := domain.NewRequest(http.MethodGet, url)
	require.NoError(t, err)

	_, err = NewFetcher(scope, time.Second).Fetch(context.Background(), req)
	var fetchErr *domain.ErrFetch
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, url, fetchErr.URL)
}

func TestFetcher_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	scope, err := domain.NewScope(srv.URL + "/sw.js")
	require.NoError(t, err)

	req, err := domain.NewRequest(http.MethodGet, srv.URL+"/big.bin")
	require.NoError(t, err)

	_, err = NewFetcher(scope, time.Second, WithMaxBodySize(1024)).Fetch(context.Background(), req)
	assert.Error(t, err)
}

func TestRemoveHopHeaders(t *testing.T) {
	h := make(http.Header)
	h.Set("Connection", "X-Trace, keep-alive")
	h.Set("X-Trace", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Content-Type", "text/html")

	RemoveHopHeaders(h)

	assert.Empty(t, h.Get("Connection"))
	assert.Empty(t, h.Get("X-Trace"))
	assert.Empty(t, h.Get("Keep-Alive"))
	assert.Equal(t, "text/html", h.Get("Content-Type"))
}
