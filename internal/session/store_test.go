package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kiranshivaraju/licensectl/internal/apiclient"
	"github.com/kiranshivaraju/licensectl/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func readyStore(t *testing.T, p Persister) *Store {
	t.Helper()
	s := NewStore(p, nil)
	require.NoError(t, s.Rehydrate(context.Background()))
	return s
}

func redisPersister(t *testing.T) (*CachePersister, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return NewCachePersister(rc, ""), mr
}

// --- lifecycle ---

func TestStore_CredentialWaitsForRehydration(t *testing.T) {
	s := NewStore(nil, nil)
	assert.Equal(t, Uninitialized, s.Snapshot().State)

	got := make(chan apiclient.Credential, 1)
	go func() {
		cred, err := s.Credential(context.Background())
		assert.NoError(t, err)
		got <- cred
	}()

	select {
	case <-got:
		t.Fatal("credential returned before rehydration")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, s.Rehydrate(context.Background()))
	select {
	case cred := <-got:
		assert.False(t, cred.Present())
	case <-time.After(time.Second):
		t.Fatal("credential still blocked after rehydration")
	}
	assert.Equal(t, Ready, s.Snapshot().State)
}

func TestStore_CredentialHonoursContext(t *testing.T) {
	s := NewStore(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Credential(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_RehydrateRestoresPersistedSession(t *testing.T) {
	p, _ := redisPersister(t)
	token := signedToken(t, jwt.MapClaims{"sub": "u-1", "name": "Ada", "role": "admin"})

	first := readyStore(t, p)
	require.NoError(t, first.SetToken(context.Background(), token))

	second := readyStore(t, p)
	snap := second.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	assert.Equal(t, token, snap.Token)
	require.NotNil(t, snap.User)
	assert.Equal(t, "Ada", snap.User.Name)
	assert.Equal(t, "admin", snap.User.Role)
}

func TestStore_RehydrateOnlyOnce(t *testing.T) {
	p, mr := redisPersister(t)
	s := readyStore(t, p)
	gen := s.Snapshot().Generation

	mr.Set(cache.SessionKey(DefaultName), `{"token":"late","isAuthenticated":true,"user":null}`)
	require.NoError(t, s.Rehydrate(context.Background()))
	assert.Equal(t, gen, s.Snapshot().Generation)
	assert.False(t, s.Snapshot().IsAuthenticated)
}

func TestStore_RehydrateCorruptSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth-storage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := NewStore(NewFilePersister(path), nil)
	err := s.Rehydrate(context.Background())
	require.Error(t, err)

	select {
	case <-s.Ready():
	default:
		t.Fatal("store not ready after failed rehydration")
	}
	assert.False(t, s.Snapshot().IsAuthenticated)
}

// --- writes ---

func TestStore_SetTokenPersistsShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licensectl", "auth-storage.json")
	s := readyStore(t, NewFilePersister(path))
	token := signedToken(t, jwt.MapClaims{"sub": "u-1", "email": "ada@example.com"})

	require.NoError(t, s.SetToken(context.Background(), token))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, token, raw["token"])
	assert.Equal(t, true, raw["isAuthenticated"])
	user, ok := raw["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", user["email"])
}

func TestStore_SetTokenRejectsEmpty(t *testing.T) {
	s := readyStore(t, nil)
	assert.ErrorIs(t, s.SetToken(context.Background(), ""), ErrEmptyToken)
}

func TestStore_SetTokenOpaqueToken(t *testing.T) {
	s := readyStore(t, nil)
	require.NoError(t, s.SetToken(context.Background(), "opaque-token"))

	snap := s.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	assert.Nil(t, snap.User)
	assert.Nil(t, snap.ExpiresAt)
}

func TestStore_ClearAuth(t *testing.T) {
	p, _ := redisPersister(t)
	s := readyStore(t, p)
	require.NoError(t, s.SetToken(context.Background(), signedToken(t, jwt.MapClaims{"sub": "u-1"})))

	require.NoError(t, s.ClearAuth(context.Background()))
	snap := s.Snapshot()
	assert.Empty(t, snap.Token)
	assert.False(t, snap.IsAuthenticated)
	assert.Nil(t, snap.User)

	restored := readyStore(t, p).Snapshot()
	assert.False(t, restored.IsAuthenticated)
	assert.Empty(t, restored.Token)
}

func TestStore_WritesBumpGeneration(t *testing.T) {
	s := readyStore(t, nil)
	g0 := s.Snapshot().Generation

	require.NoError(t, s.SetToken(context.Background(), "a"))
	g1 := s.Snapshot().Generation
	require.NoError(t, s.ClearAuth(context.Background()))
	g2 := s.Snapshot().Generation

	assert.Greater(t, g1, g0)
	assert.Greater(t, g2, g1)
}

func TestStore_ReadersNeverSeePartialWrites(t *testing.T) {
	s := readyStore(t, nil)
	token := signedToken(t, jwt.MapClaims{"sub": "u-1"})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				if snap.IsAuthenticated != (snap.Token != "") || (snap.User != nil) != snap.IsAuthenticated {
					t.Errorf("inconsistent snapshot: %+v", snap)
					return
				}
			}
		}()
	}

	for range 200 {
		require.NoError(t, s.SetToken(context.Background(), token))
		require.NoError(t, s.ClearAuth(context.Background()))
	}
	close(stop)
	wg.Wait()
}

// --- invalidation ---

func TestStore_InvalidateOncePerGeneration(t *testing.T) {
	s := readyStore(t, nil)
	require.NoError(t, s.SetToken(context.Background(), "tok"))

	cred, err := s.Credential(context.Background())
	require.NoError(t, err)

	assert.True(t, s.Invalidate(context.Background(), cred))
	assert.False(t, s.Invalidate(context.Background(), cred))
	assert.False(t, s.Snapshot().IsAuthenticated)
}

func TestStore_InvalidateIgnoresOlderCredential(t *testing.T) {
	s := readyStore(t, nil)
	require.NoError(t, s.SetToken(context.Background(), "old"))
	old, err := s.Credential(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.SetToken(context.Background(), "new"))
	assert.False(t, s.Invalidate(context.Background(), old))
	assert.Equal(t, "new", s.Snapshot().Token)
}

func TestStore_Concurrent401sInvalidateOnce(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(3)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived.Done()
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	s := readyStore(t, nil)
	require.NoError(t, s.SetToken(context.Background(), "tok"))

	var signedOut atomic.Int32
	s.Subscribe(func(snap Snapshot) {
		if !snap.IsAuthenticated {
			signedOut.Add(1)
		}
	})

	c, err := apiclient.New(ts.URL, s, apiclient.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	errs := make(chan error, 3)
	for range 3 {
		go func() { errs <- c.Get(context.Background(), "/licenses", nil, nil) }()
	}
	arrived.Wait()
	close(release)

	for range 3 {
		assert.ErrorIs(t, <-errs, apiclient.ErrSessionExpired)
	}
	assert.Equal(t, int32(1), signedOut.Load())
}

// --- subscriptions ---

func TestStore_Subscribe(t *testing.T) {
	s := NewStore(nil, nil)

	var mu sync.Mutex
	var seen []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, snap)
	})

	require.NoError(t, s.Rehydrate(context.Background()))
	require.NoError(t, s.SetToken(context.Background(), "tok"))
	unsubscribe()
	require.NoError(t, s.ClearAuth(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, Ready, seen[0].State)
	assert.False(t, seen[0].IsAuthenticated)
	assert.True(t, seen[1].IsAuthenticated)
}
