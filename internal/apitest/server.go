// Package apitest runs an in-memory license API for tests. It implements
// enough of the REST contract the console consumes to exercise clients end
// to end, plus hooks to revoke sessions and inject failures.
package apitest

import (
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BasePath is where the API is mounted.
const BasePath = "/api/v1"

// Server is a running fake license API.
type Server struct {
	*httptest.Server
	// BaseURL is the URL clients should be configured with.
	BaseURL string
	Store   *Store

	log      *zap.Logger
	now      func() time.Time
	listener net.Listener
	tokens   *tokenIssuer

	mu     sync.Mutex
	hits   map[string]int
	faults []fault
}

type fault struct {
	method  string
	path    string
	status  int
	message string
	times   int
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithClock sets the time used for timestamps, token expiry and the
// dashboard window.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithListener serves on l instead of a random loopback port.
func WithListener(l net.Listener) Option {
	return func(s *Server) { s.listener = l }
}

// NewServer starts a server. Close it when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		log:  zap.NewNop(),
		now:  time.Now,
		hits: map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Store = NewStore(s.now)
	s.tokens = &tokenIssuer{secret: []byte("apitest-signing-secret"), ttl: time.Hour, now: s.now}

	s.Server = httptest.NewUnstartedServer(s.routes())
	if s.listener != nil {
		_ = s.Server.Listener.Close()
		s.Server.Listener = s.listener
	}
	s.Server.Start()
	s.BaseURL = s.Server.URL + BasePath
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logger)
	r.Use(s.recovery)
	r.Use(s.injectFaults)

	r.Route(BasePath, func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/licenses", s.handleListLicenses)
			r.Post("/licenses", s.handleCreateLicense)
			r.Patch("/licenses/{id}", s.handleUpdateLicense)
			r.Patch("/licenses/{id}/status", s.handleChangeStatus)

			r.Get("/apikeys", s.handleListAPIKeys)
			r.Post("/apikeys", s.handleCreateAPIKey)
			r.Delete("/apikeys/{id}", s.handleRevokeAPIKey)

			r.Get("/dashboard/summary", s.handleDashboardSummary)
		})
	})
	return r
}

// IssueToken signs a session token for an existing user without a login
// round trip.
func (s *Server) IssueToken(username string) (string, bool) {
	s.Store.mu.RLock()
	u, ok := s.Store.users[username]
	s.Store.mu.RUnlock()
	if !ok {
		return "", false
	}
	tok, err := s.tokens.issue(u.info)
	if err != nil {
		return "", false
	}
	return tok, true
}

// RevokeSessions makes every issued session token fail with 401.
func (s *Server) RevokeSessions() {
	s.tokens.revokeAll()
}

// Fail answers the next times requests to method and path (relative to
// BasePath) with status. An empty message sends no body.
func (s *Server) Fail(method, path string, status int, message string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{method: method, path: BasePath + path, status: status, message: message, times: times})
}

func (s *Server) takeFault(method, path string) (fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.faults {
		f := &s.faults[i]
		if f.method == method && f.path == path && f.times > 0 {
			f.times--
			return *f, true
		}
	}
	return fault{}, false
}

// Hits returns how many requests reached method and path (relative to
// BasePath).
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+BasePath+path]
}

func (s *Server) countHit(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[method+" "+path]++
}
