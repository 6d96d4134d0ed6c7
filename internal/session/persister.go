package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kiranshivaraju/licensectl/internal/cache"
)

// DefaultName is the name sessions are persisted under.
const DefaultName = "auth-storage"

// Persister stores the session between runs.
type Persister interface {
	// Load returns the stored session, or false when none has been saved.
	Load(ctx context.Context) (Session, bool, error)
	Save(ctx context.Context, s Session) error
}

// FilePersister keeps the session in a JSON file readable only by its owner.
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (p *FilePersister) Load(_ context.Context) (Session, bool, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("reading session file: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, false, fmt.Errorf("decoding session file: %w", err)
	}
	return s, true, nil
}

// Save replaces the file atomically so a concurrent reader never sees a
// partial session.
func (p *FilePersister) Save(_ context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("creating session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// CachePersister keeps the session in a cache.Cache, normally redis, so
// several consoles can share one sign-in.
type CachePersister struct {
	cache cache.Cache
	key   string
}

func NewCachePersister(c cache.Cache, name string) *CachePersister {
	if name == "" {
		name = DefaultName
	}
	return &CachePersister{cache: c, key: cache.SessionKey(name)}
}

func (p *CachePersister) Load(ctx context.Context) (Session, bool, error) {
	data, ok, err := p.cache.Get(ctx, p.key)
	if err != nil {
		return Session{}, false, fmt.Errorf("reading session %s: %w", p.key, err)
	}
	if !ok {
		return Session{}, false, nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, false, fmt.Errorf("decoding session %s: %w", p.key, err)
	}
	return s, true, nil
}

func (p *CachePersister) Save(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := p.cache.Set(ctx, p.key, data, 0); err != nil {
		return fmt.Errorf("writing session %s: %w", p.key, err)
	}
	return nil
}
