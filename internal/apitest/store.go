package apitest

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	apiKeyPrefixLength = 8
	apiKeySecretLength = 32
	apiKeyFormat       = "lm_%s_%s"
)

// ListFilter selects and orders licenses like the list endpoint does.
type ListFilter struct {
	Status      string
	Email       string
	ProductName string
	Type        string
	Limit       int
	Offset      int
	SortBy      string
	SortOrder   string
}

type apiKeyRecord struct {
	models.APIKey
	hash []byte
}

type user struct {
	hash []byte
	info models.UserInfo
}

// Store is the in-memory data behind the fake server. Safe for concurrent use.
type Store struct {
	now func() time.Time

	mu       sync.RWMutex
	licenses map[string]*models.License
	keys     map[string]*apiKeyRecord
	users    map[string]*user
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:      now,
		licenses: map[string]*models.License{},
		keys:     map[string]*apiKeyRecord{},
		users:    map[string]*user{},
	}
}

// --- users ---

// AddUser registers a console user able to sign in with password.
func (s *Store) AddUser(username, password, role string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &user{
		hash: hash,
		info: models.UserInfo{ID: uuid.NewString(), Role: role, Name: username, LoginName: username},
	}
	return nil
}

func (s *Store) checkPassword(username, password string) (models.UserInfo, bool) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return models.UserInfo{}, false
	}
	return u.info, true
}

// --- licenses ---

// SeedLicense stores l as given, filling in the id, key and timestamps when
// they are empty.
func (s *Store) SeedLicense(l models.License) models.License {
	now := s.now().UTC()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.LicenseKey == "" {
		l.LicenseKey = newLicenseKey()
	}
	if l.Status == "" {
		l.Status = models.LicenseStatusActive
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := l
	s.licenses[l.ID] = &stored
	return l
}

func (s *Store) CreateLicense(req models.CreateLicenseRequest) models.License {
	now := s.now().UTC()
	return s.SeedLicense(models.License{
		Status:        models.LicenseStatusActive,
		Type:          req.Type,
		ProductName:   req.ProductName,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Metadata:      nullToEmpty(req.Metadata),
		IssuedAt:      &now,
		ExpiresAt:     req.ExpiresAt,
		CreatedAt:     now,
	})
}

func (s *Store) GetLicense(id string) (models.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.licenses[id]
	if !ok {
		return models.License{}, ErrNotFound
	}
	return *l, nil
}

// ListLicenses returns the requested page and the total number of matches.
func (s *Store) ListLicenses(f ListFilter) ([]models.License, int) {
	s.mu.RLock()
	matched := make([]models.License, 0, len(s.licenses))
	for _, l := range s.licenses {
		if matches(*l, f) {
			matched = append(matched, *l)
		}
	}
	s.mu.RUnlock()

	sortLicenses(matched, f.SortBy, f.SortOrder)

	total := len(matched)
	if f.Offset >= total {
		return []models.License{}, total
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total
}

func matches(l models.License, f ListFilter) bool {
	if f.Status != "" && string(l.Status) != f.Status {
		return false
	}
	if f.Type != "" && l.Type != f.Type {
		return false
	}
	if f.Email != "" && (l.CustomerEmail == nil || !containsFold(*l.CustomerEmail, f.Email)) {
		return false
	}
	if f.ProductName != "" && !containsFold(l.ProductName, f.ProductName) {
		return false
	}
	return true
}

func sortLicenses(ls []models.License, by, order string) {
	if by == "" {
		by, order = "created_at", "DESC"
	}
	desc := strings.EqualFold(order, "DESC")

	sort.SliceStable(ls, func(i, j int) bool {
		c := compareColumn(ls[i], ls[j], by)
		if c == 0 {
			return ls[i].ID < ls[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareColumn(a, b models.License, column string) int {
	switch column {
	case "license_key":
		return strings.Compare(a.LicenseKey, b.LicenseKey)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "type":
		return strings.Compare(a.Type, b.Type)
	case "product_name":
		return strings.Compare(a.ProductName, b.ProductName)
	case "customer_email":
		return strings.Compare(deref(a.CustomerEmail), deref(b.CustomerEmail))
	case "expires_at":
		return compareTimes(a.ExpiresAt, b.ExpiresAt)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// compareTimes orders unset times after every set one.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}

// UpdateLicense applies the fields set in req.
func (s *Store) UpdateLicense(id string, req models.UpdateLicenseRequest) (models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[id]
	if !ok {
		return models.License{}, ErrNotFound
	}
	if req.Type != nil {
		l.Type = *req.Type
	}
	if req.ProductName != nil {
		l.ProductName = *req.ProductName
	}
	if req.CustomerName.Set {
		l.CustomerName = nullableString(req.CustomerName)
	}
	if req.CustomerEmail.Set {
		l.CustomerEmail = nullableString(req.CustomerEmail)
	}
	if req.Metadata.Set {
		if req.Metadata.Null {
			l.Metadata = nil
		} else {
			l.Metadata = nullToEmpty(req.Metadata.Value)
		}
	}
	if req.ExpiresAt.Set {
		if req.ExpiresAt.Null {
			l.ExpiresAt = nil
		} else {
			t := req.ExpiresAt.Value
			l.ExpiresAt = &t
		}
	}
	l.UpdatedAt = s.now().UTC()
	return *l, nil
}

// ChangeStatus moves a license to status. Revoked licenses stay revoked.
func (s *Store) ChangeStatus(id string, status models.LicenseStatus) (models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[id]
	if !ok {
		return models.License{}, ErrNotFound
	}
	if l.Status == models.LicenseStatusRevoked && status != models.LicenseStatusRevoked {
		return models.License{}, fmt.Errorf("%w: license %s is revoked", ErrInvalidTransition, l.LicenseKey)
	}
	l.Status = status
	l.UpdatedAt = s.now().UTC()
	return *l, nil
}

func (s *Store) allLicenses() []models.License {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.License, 0, len(s.licenses))
	for _, l := range s.licenses {
		out = append(out, *l)
	}
	return out
}

// --- api keys ---

// CreateAPIKey issues a key. Only its bcrypt hash is kept; the full key is
// returned once.
func (s *Store) CreateAPIKey(description string) (models.CreatedAPIKey, error) {
	prefix, err := randomHex(apiKeyPrefixLength)
	if err != nil {
		return models.CreatedAPIKey{}, err
	}
	secret, err := randomHex(apiKeySecretLength)
	if err != nil {
		return models.CreatedAPIKey{}, err
	}
	fullKey := fmt.Sprintf(apiKeyFormat, prefix, secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.MinCost)
	if err != nil {
		return models.CreatedAPIKey{}, fmt.Errorf("hashing api key: %w", err)
	}

	rec := &apiKeyRecord{
		APIKey: models.APIKey{
			ID:          uuid.NewString(),
			Prefix:      prefix,
			Description: description,
			IsEnabled:   true,
			CreatedAt:   s.now().UTC(),
		},
		hash: hash,
	}

	s.mu.Lock()
	s.keys[rec.ID] = rec
	s.mu.Unlock()

	return models.CreatedAPIKey{
		ID:          rec.ID,
		FullKey:     fullKey,
		Prefix:      prefix,
		Description: description,
	}, nil
}

// ListAPIKeys returns every key, newest first.
func (s *Store) ListAPIKeys() []models.APIKey {
	s.mu.RLock()
	out := make([]models.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.APIKey)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// RevokeAPIKey disables a key. Revoked keys stay listed.
func (s *Store) RevokeAPIKey(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.IsEnabled = false
	return nil
}

// AuthenticateAPIKey finds the enabled key matching raw and records its use.
func (s *Store) AuthenticateAPIKey(raw string) (models.APIKey, bool) {
	parts := strings.Split(raw, "_")
	if len(parts) != 3 || parts[0] != "lm" || len(parts[1]) != apiKeyPrefixLength {
		return models.APIKey{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Prefix != parts[1] || !k.IsEnabled {
			continue
		}
		if bcrypt.CompareHashAndPassword(k.hash, []byte(raw)) == nil {
			now := s.now().UTC()
			k.LastUsedAt = &now
			return k.APIKey, true
		}
	}
	return models.APIKey{}, false
}

// --- helpers ---

func newLicenseKey() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("LIC-%s-%s-%s-%s", id[0:4], id[4:8], id[8:12], id[12:16])
}

func randomHex(n int) (string, error) {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random key: %w", err)
	}
	return hex.EncodeToString(b)[:n], nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullableString(n models.Nullable[string]) *string {
	if n.Null || n.Value == "" {
		return nil
	}
	v := n.Value
	return &v
}

func nullToEmpty(raw []byte) []byte {
	if s := strings.TrimSpace(string(raw)); s == "" || s == "null" {
		return nil
	}
	return raw
}
