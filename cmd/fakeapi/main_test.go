package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/licensectl/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startRun(t *testing.T, opts options) (string, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- run(ctx, opts, out, io.Discard) }()

	var baseURL string
	require.Eventually(t, func() bool {
		line, ok := strings.CutPrefix(out.String(), "LICENSECTL_API_URL=")
		baseURL = strings.TrimSpace(line)
		return ok && strings.HasSuffix(line, "\n")
	}, 5*time.Second, 10*time.Millisecond)

	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			return context.DeadlineExceeded
		}
	}
	t.Cleanup(func() { _ = stop() })
	return baseURL, stop
}

func TestRun_ServesSeededLicenses(t *testing.T) {
	baseURL, stop := startRun(t, options{
		addr: "127.0.0.1:0", username: "ops", password: "pw", seed: 12, logLevel: "error",
	})

	body, _ := json.Marshal(models.LoginRequest{Username: "ops", Password: "pw"})
	resp, err := http.Post(baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var login models.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, login.AccessToken)

	req, err := http.NewRequest(http.MethodGet, baseURL+"/licenses?limit=5&offset=0", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var page models.LicensePage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Equal(t, 12, page.TotalCount)
	assert.Len(t, page.Licenses, 5)

	assert.NoError(t, stop())
}

func TestRun_RejectsUnknownLogLevel(t *testing.T) {
	err := run(context.Background(), options{addr: "127.0.0.1:0", logLevel: "loud"}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create logger")
}

func TestRun_RejectsNegativeSeed(t *testing.T) {
	err := run(context.Background(), options{addr: "127.0.0.1:0", seed: -1}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--seed")
}

func TestRun_FailsOnBusyAddress(t *testing.T) {
	baseURL, _ := startRun(t, options{addr: "127.0.0.1:0", username: "a", password: "b", logLevel: "error"})
	addr := strings.TrimPrefix(strings.TrimSuffix(baseURL, "/api/v1"), "http://")

	err := run(context.Background(), options{addr: addr, logLevel: "error"}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}

func TestNewCmd_Defaults(t *testing.T) {
	cmd := newCmd(io.Discard)
	addr, err := cmd.Flags().GetString("addr")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", addr)
	seed, err := cmd.Flags().GetInt("seed")
	require.NoError(t, err)
	assert.Equal(t, 40, seed)
}
