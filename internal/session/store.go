// Package session holds the credential every request to the license API
// carries. The Store is the process-wide source of truth; OIDCProvider layers
// token refresh on top of it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kiranshivaraju/licensectl/internal/apiclient"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"go.uber.org/zap"
)

var ErrEmptyToken = errors.New("empty token")

// State is the lifecycle position of a Store.
type State int

const (
	Uninitialized State = iota
	Rehydrating
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Rehydrating:
		return "rehydrating"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the persisted form of the credential. The OIDC fields are empty
// for password sign-ins.
type Session struct {
	Token           string           `json:"token"`
	IsAuthenticated bool             `json:"isAuthenticated"`
	User            *models.UserInfo `json:"user"`
	RefreshToken    string           `json:"refreshToken,omitempty"`
	ExpiresAt       *time.Time       `json:"expiresAt,omitempty"`
	IDToken         string           `json:"idToken,omitempty"`
	// Error tags a session that can no longer be refreshed.
	Error string `json:"error,omitempty"`
}

func (s Session) normalize() Session {
	if s.Token == "" {
		s.IsAuthenticated = false
	} else if s.Error == "" {
		s.IsAuthenticated = true
	}
	return s
}

// Snapshot is a consistent view of a Store.
type Snapshot struct {
	Session
	State      State
	Generation uint64
}

// Credential returns the credential for the snapshot's session.
func (s Snapshot) Credential() apiclient.Credential {
	if !s.IsAuthenticated {
		return apiclient.Credential{Generation: s.Generation}
	}
	return apiclient.Credential{Token: s.Token, Generation: s.Generation}
}

// Store moves through Uninitialized, Rehydrating and Ready. Credential and
// every write wait for Ready, so no request leaves before the persisted
// session has been read. Each write bumps the generation.
type Store struct {
	persister Persister
	log       *zap.Logger

	// writeMu serialises writers so the persisted order matches memory.
	writeMu sync.Mutex

	mu      sync.RWMutex
	state   State
	session Session
	gen     uint64
	subs    []subscriber
	nextSub int

	ready        chan struct{}
	once         sync.Once
	rehydrateErr error
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// NewStore creates an uninitialized Store. A nil persister keeps the session
// in memory only.
func NewStore(p Persister, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		persister: p,
		log:       log,
		ready:     make(chan struct{}),
	}
}

// Rehydrate loads the persisted session and makes the store Ready. Only the
// first call does any work. A persister failure is returned but the store
// still becomes Ready, signed out.
func (s *Store) Rehydrate(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = Rehydrating
		s.mu.Unlock()

		var (
			sess Session
			ok   bool
		)
		if s.persister != nil {
			var err error
			sess, ok, err = s.persister.Load(ctx)
			if err != nil {
				s.log.Warn("could not restore session", zap.Error(err))
				s.rehydrateErr = err
				ok = false
			}
		}

		s.mu.Lock()
		if ok {
			s.session = sess.normalize()
		}
		s.state = Ready
		s.gen++
		snap := s.snapshotLocked()
		s.mu.Unlock()

		close(s.ready)
		s.log.Debug("session ready", zap.Bool("authenticated", snap.IsAuthenticated))
		s.notify(snap)
	})
	return s.rehydrateErr
}

// Ready is closed once the store has been rehydrated.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Wait blocks until the store is Ready or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Session: s.session, State: s.state, Generation: s.gen}
}

// Credential implements apiclient.CredentialProvider.
func (s *Store) Credential(ctx context.Context) (apiclient.Credential, error) {
	if err := s.Wait(ctx); err != nil {
		return apiclient.Credential{}, err
	}
	snap := s.Snapshot()
	if snap.Error != "" {
		return apiclient.Credential{}, fmt.Errorf("%w: %s", apiclient.ErrSessionExpired, snap.Error)
	}
	return snap.Credential(), nil
}

// Invalidate implements apiclient.CredentialProvider. The session is cleared
// only while it is still at cred's generation.
func (s *Store) Invalidate(ctx context.Context, cred apiclient.Credential) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state != Ready || s.gen != cred.Generation || !s.session.IsAuthenticated {
		s.mu.Unlock()
		return false
	}
	s.session = Session{}
	s.gen++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persist(ctx, snap.Session); err != nil {
		s.log.Warn("could not persist cleared session", zap.Error(err))
	}
	s.notify(snap)
	return true
}

// SetToken signs in with token. User details are read from the token when it
// is a JWT.
func (s *Store) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	sess := Session{Token: token, User: UserFromToken(token)}
	if exp, ok := TokenExpiry(token); ok {
		sess.ExpiresAt = &exp
	}
	return s.SetSession(ctx, sess)
}

// SetSession replaces the whole session.
func (s *Store) SetSession(ctx context.Context, sess Session) error {
	_, err := s.write(ctx, func(Session) (Session, bool) { return sess, true })
	return err
}

// ClearAuth signs out, dropping the token, the authenticated flag and the
// user in one step.
func (s *Store) ClearAuth(ctx context.Context) error {
	_, err := s.write(ctx, func(Session) (Session, bool) { return Session{}, true })
	return err
}

// markErrored tags the session at generation gen as unusable. The user is
// kept for display.
func (s *Store) markErrored(ctx context.Context, gen uint64, tag string) bool {
	changed, err := s.write(ctx, func(cur Session) (Session, bool) {
		if s.gen != gen {
			return cur, false
		}
		return Session{User: cur.User, Error: tag}, true
	})
	if err != nil {
		s.log.Warn("could not persist errored session", zap.Error(err))
	}
	return changed
}

// write applies fn to the current session under the writer lock. fn runs
// with s.mu held and must not call back into the store.
func (s *Store) write(ctx context.Context, fn func(Session) (Session, bool)) (bool, error) {
	if err := s.Wait(ctx); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	next, ok := fn(s.session)
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	s.session = next.normalize()
	s.gen++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	err := s.persist(ctx, snap.Session)
	s.notify(snap)
	return true, err
}

func (s *Store) persist(ctx context.Context, sess Session) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Save(ctx, sess)
}

// Subscribe calls fn after every change with the new snapshot. fn must not
// write to the store. The returned function removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notify(snap Snapshot) {
	s.mu.RLock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(snap)
	}
}

var _ apiclient.CredentialProvider = (*Store)(nil)
