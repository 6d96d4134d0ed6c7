package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/licensectl/internal/cache"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersisters_RoundTrip(t *testing.T) {
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := Session{
		Token:           "at",
		IsAuthenticated: true,
		User:            &models.UserInfo{ID: "u-1", Name: "Ada"},
		RefreshToken:    "rt",
		ExpiresAt:       &exp,
	}

	redisP, _ := redisPersister(t)
	persisters := map[string]Persister{
		"file":   NewFilePersister(filepath.Join(t.TempDir(), "nested", "session.json")),
		"redis":  redisP,
		"memory": NewCachePersister(cache.NewMemoryCache(), "console"),
	}

	for name, p := range persisters {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := p.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, p.Save(ctx, want))
			got, ok, err := p.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want.Token, got.Token)
			assert.Equal(t, want.RefreshToken, got.RefreshToken)
			assert.True(t, want.ExpiresAt.Equal(*got.ExpiresAt))
			assert.Equal(t, want.User, got.User)
		})
	}
}

func TestCachePersister_Key(t *testing.T) {
	mc := cache.NewMemoryCache()
	p := NewCachePersister(mc, "")
	require.NoError(t, p.Save(context.Background(), Session{Token: "t"}))

	_, ok, err := mc.Get(context.Background(), "session:auth-storage")
	require.NoError(t, err)
	assert.True(t, ok)
}
