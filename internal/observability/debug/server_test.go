package debug

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "taskloop/pkg/logx"
)

func TestCheckAddr(t *testing.T) {
	t.Parallel()
	assert.NoError(t, CheckAddr("", ""))
	assert.NoError(t, CheckAddr("127.0.0.1:6060", ""))
	assert.NoError(t, CheckAddr("localhost:6060", ""))
	assert.NoError(t, CheckAddr("[::1]:6060", ""))
	assert.Error(t, CheckAddr(":6060", ""))
	assert.Error(t, CheckAddr("0.0.0.0:6060", ""))
	assert.NoError(t, CheckAddr("0.0.0.0:6060", "secret"))
	assert.Error(t, CheckAddr("nonsense", "secret"))
}

func TestHandlerServesSnapshot(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), func() any { return map[string]int{"tasks": 2} })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body["tasks"])
}

func TestHandlerRequiresToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Token: "secret"}, logx.Nop(), func() any { return nil })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz?token=secret")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeStopsCleanly(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, logx.Nop(), func() any { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
