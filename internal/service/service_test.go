package service_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/kiranshivaraju/licensectl/internal/apiclient"
	"github.com/kiranshivaraju/licensectl/internal/apitest"
	"github.com/kiranshivaraju/licensectl/internal/cache"
	"github.com/kiranshivaraju/licensectl/internal/querycache"
	"github.com/kiranshivaraju/licensectl/internal/service"
	"github.com/kiranshivaraju/licensectl/internal/session"
	"github.com/kiranshivaraju/licensectl/pkg/listquery"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

type env struct {
	srv   *apitest.Server
	store *session.Store
	mem   *cache.MemoryCache
	svc   *service.Services
}

func newEnv(t *testing.T, opts ...apitest.Option) *env {
	t.Helper()
	srv := apitest.NewServer(opts...)
	t.Cleanup(srv.Close)
	require.NoError(t, srv.Store.AddUser("admin", "s3cret", "admin"))

	store := session.NewStore(nil, nil)
	require.NoError(t, store.Rehydrate(context.Background()))

	api, err := apiclient.New(srv.BaseURL, store, apiclient.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	mem := cache.NewMemoryCache()
	svc := service.New(api, querycache.New(mem, nil), store, service.DefaultConfig(), nil)
	return &env{srv: srv, store: store, mem: mem, svc: svc}
}

func signedIn(t *testing.T, opts ...apitest.Option) *env {
	t.Helper()
	e := newEnv(t, opts...)
	require.NoError(t, e.svc.Auth.Login(context.Background(), service.LoginForm{Username: "admin", Password: "s3cret"}))
	return e
}

func firstPage() listquery.Params {
	return listquery.Build(listquery.NewState(10))
}

func svcErr(t *testing.T, err error) *service.Error {
	t.Helper()
	require.Error(t, err)
	var e *service.Error
	require.ErrorAs(t, err, &e)
	return e
}

func strp(s string) *string { return &s }

// --- auth ---

func TestAuth_LoginStoresSession(t *testing.T) {
	e := signedIn(t)

	snap := e.store.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	require.NotNil(t, snap.User)
	assert.Equal(t, "admin", snap.User.Name)
	assert.Equal(t, "admin", snap.User.Role)
}

func TestAuth_LoginBadPasswordKeepsSessionAlive(t *testing.T) {
	e := newEnv(t)

	err := e.svc.Auth.Login(context.Background(), service.LoginForm{Username: "admin", Password: "wrong"})
	se := svcErr(t, err)
	assert.Equal(t, service.KindValidation, se.Kind)
	assert.Equal(t, http.StatusUnauthorized, se.Status)
	assert.Equal(t, "Invalid username or password", se.Message)
	assert.False(t, service.IsSessionExpired(err))
	assert.False(t, e.store.Snapshot().IsAuthenticated)
}

func TestAuth_LoginValidatesForm(t *testing.T) {
	e := newEnv(t)

	se := svcErr(t, e.svc.Auth.Login(context.Background(), service.LoginForm{}))
	assert.Equal(t, service.KindValidation, se.Kind)
	assert.Equal(t, "Username is required", se.Fields["username"])
	assert.Equal(t, "Password is required", se.Fields["password"])
	assert.Zero(t, e.srv.Hits(http.MethodPost, "/auth/login"))
}

func TestAuth_Logout(t *testing.T) {
	e := signedIn(t)
	ctx := context.Background()

	_, err := e.svc.Licenses.List(ctx, firstPage())
	require.NoError(t, err)

	require.NoError(t, e.svc.Auth.Logout(ctx))
	assert.False(t, e.store.Snapshot().IsAuthenticated)

	_, found, err := e.mem.Get(ctx, cache.QueryKey(cache.ScopeLicenses, firstPage().Key()))
	require.NoError(t, err)
	assert.False(t, found)
}

// --- licenses ---

func TestLicenses_ListIsCached(t *testing.T) {
	e := signedIn(t)
	ctx := context.Background()
	e.srv.Store.SeedLicense(models.License{ProductName: "Atlas", Type: "pro"})

	first, err := e.svc.Licenses.List(ctx, firstPage())
	require.NoError(t, err)
	second, err := e.svc.Licenses.List(ctx, firstPage())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, first.TotalCount)
	assert.Equal(t, 1, e.srv.Hits(http.MethodGet, "/licenses"))

	_, err = e.svc.Licenses.List(ctx, firstPage(), service.Fresh())
	require.NoError(t, err)
	assert.Equal(t, 2, e.srv.Hits(http.MethodGet, "/licenses"))
}

func TestLicenses_ListPassesParams(t *testing.T) {
	e := signedIn(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		status := models.LicenseStatusActive
		if i%5 == 0 {
			status = models.LicenseStatusRevoked
		}
		e.srv.Store.SeedLicense(models.License{ProductName: "Atlas", Type: "pro", Status: status})
	}

	st := listquery.NewState(10)
	st.PageIndex = 1
	st.Filters[listquery.FilterStatus] = "active"
	page, err := e.svc.Licenses.List(ctx, listquery.Build(st))
	require.NoError(t, err)

	assert.Equal(t, 20, page.TotalCount)
	assert.Len(t, page.Licenses, 10)
	for _, l := range page.Licenses {
		assert.Equal(t, models.LicenseStatusActive, l.Status)
	}
}

func TestLicenses_CreateInvalidatesList(t *testing.T) {
	e := signedIn(t)
	ctx := context.Background()

	page, err := e.svc.Licenses.List(ctx, firstPage())
	require.NoError(t, err)
	assert.Empty(t, page.Licenses)

	lic, err := e.svc.Licenses.Create(ctx, service.LicenseForm{
		Type:          "enterprise",
		ProductName:   "Atlas",
		CustomerEmail: "ops@example.com",
		Metadata:      `{"seats": 5}`,
	})
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, lic.Status)
	assert.JSONEq(t, `{"seats":5}`, string(lic.Metadata))

	page, err = e.svc.Licenses.List(ctx, firstPage())
	require.NoError(t, err)
	require.Len(t, page.Licenses, 1)
	assert.Equal(t, lic.ID, page.Licenses[0].ID)
	assert.Equal(t, 2, e.srv.Hits(http.MethodGet, "/licenses"))
}

func TestLicenses_CreateValidation(t *testing.T) {
	e := signedIn(t)

	tests := []struct {
		name  string
		form  service.LicenseForm
		field string
		msg   string
	}{
		{"missing type", service.LicenseForm{ProductName: "Atlas"}, "type", "License type is required"},
		{"missing product", service.LicenseForm{Type: "pro"}, "product_name", "Product name is required"},
		{"bad email", service.LicenseForm{Type: "pro", ProductName: "Atlas", CustomerEmail: "not-an-email"}, "customer_email", "Invalid email address"},
		{"bad metadata", service.LicenseForm{Type: "pro", ProductName: "Atlas", Metadata: "{seats:"}, "metadata", "Metadata must be valid JSON or empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Licenses.Create(context.Background(), tt.form)
			se := svcErr(t, err)
			assert.Equal(t, service.KindValidation, se.Kind)
			assert.Equal(t, tt.msg, se.Fields[tt.field])
		})
	}
	assert.Zero(t, e.srv.Hits(http.MethodPost, "/licenses"))
}

func TestLicenses_ErrorMessages(t *testing.T) {
	e := signedIn(t)
	ctx := context.Background()

	e.srv.Fail(http.MethodGet, "/licenses", http.StatusInternalServerError, "database unavailable", 1)
	se := svcErr(t, func() error { _, err := e.svc.Licenses.List(ctx, firstPage()); return err }())
	assert.Equal(t, service.KindServer, se.Kind)
	assert.Equal(t, http.StatusInternalServerError, se.Status)
	assert.Equal(t, "database unavailable", se.Message)

	e.srv.Fail(http.MethodGet, "/licenses", http.StatusBadGateway, "", 1)
	se = svcErr(t, func() error { _, err := e.svc.Licenses.List(ctx, firstPage()); return err }())
	assert.Equal(t, "Failed to fetch licenses", se.Message)
}

func TestLicenses_SessionExpired(t *testing.T) {
	e := signedIn(t)
	e.srv.RevokeSessions()

	_, err := e.svc.Licenses.List(context.Background(), firstPage())
	se := svcErr(t, err)
	assert.Equal(t, service.KindSessionExpired, se.Kind)
	assert.Equal(t, service.MsgSessionExpired, se.Message)
	assert.True(t, service.IsSessionExpired(err))
	assert.False(t, e.store.Snapshot().IsAuthenticated)
}

func TestLicenses_Unreachable(t *testing.T) {
	e := signedIn(t)
	e.srv.Close()

	_, err := e.svc.Licenses.List(context.Background(), firstPage())
	se := svcErr(t, err)
	assert.Equal(t, service.KindNetwork, se.Kind)
	assert.Equal(t, "Failed to fetch licenses", se.Message)
	assert.True(t, e.store.Snapshot().IsAuthenticated)
}

func TestLicenses_EditSendsOnlyChanges(t *testing.T) {
	e := signedIn(t)
	ctx := context.Background()
	current := e.srv.Store.SeedLicense(models.License{
		Type:          "pro",
		ProductName:   "Atlas",
		CustomerName:  strp("Acme"),
		CustomerEmail: strp("ops@acme.test"),
		Metadata:      []byte(`{"seats":5}`),
	})

	form := service.FormFromLicense(current)
	form.CustomerEmail = ""
	form.Metadata = `{"seats": 10}`

	updated, err := e.svc.Licenses.Edit(ctx, current, form)
	require.NoError(t, err)
	assert.Nil(t, updated.CustomerEmail)
	require.NotNil(t, updated.CustomerName)
	assert.Equal(t, "Acme", *updated.CustomerName)
	assert.JSONEq(t, `{"seats":10}`, string(updated.Metadata))
}

func TestLicenses_EditWithoutChanges(t *testing.T) {
	e := signedIn(t)
	current := e.srv.Store.SeedLicense(models.License{Type: "pro", ProductName: "Atlas"})

	_, err := e.svc.Licenses.Edit(context.Background(), current, service.FormFromLicense(current))
	assert.True(t, service.IsNoChanges(err))
	assert.EqualError(t, err, "No changes detected.")
	assert.Zero(t, e.srv.Hits(http.MethodPatch, "/licenses/"+current.ID))
}

func TestLicenses_SetStatusAlreadyCurrent(t *testing.T) {
	e := signedIn(t)
	lic := e.srv.Store.SeedLicense(models.License{Type: "pro", ProductName: "Atlas", Status: models.LicenseStatusActive})

	se := svcErr(t, e.svc.Licenses.SetStatus(context.Background(), lic, models.LicenseStatusActive))
	assert.Equal(t, service.KindValidation, se.Kind)
	assert.Equal(t, "License is already active.", se.Message)
}

func TestLicenses_RevokeIsFinal(t *testing.T) {
	e := signedIn(t)
	ctx := context.Background()
	lic := e.srv.Store.SeedLicense(models.License{Type: "pro", ProductName: "Atlas"})

	require.NoError(t, e.svc.Licenses.Revoke(ctx, lic.ID))
	got, err := e.srv.Store.GetLicense(lic.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, got.Status)

	se := svcErr(t, e.svc.Licenses.ChangeStatus(ctx, lic.ID, models.LicenseStatusActive))
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Contains(t, se.Message, "revoked")
}

func TestLicenses_StatusFallbackMessage(t *testing.T) {
	e := signedIn(t)
	lic := e.srv.Store.SeedLicense(models.License{Type: "pro", ProductName: "Atlas"})
	e.srv.Fail(http.MethodPatch, "/licenses/"+lic.ID+"/status", http.StatusInternalServerError, "", 1)

	se := svcErr(t, e.svc.Licenses.ChangeStatus(context.Background(), lic.ID, models.LicenseStatusInactive))
	assert.Equal(t, "Failed to change status to inactive", se.Message)
}

func TestLicenses_MutationInvalidatesDashboard(t *testing.T) {
	e := signedIn(t)
	ctx := context.Background()

	_, err := e.svc.Dashboard.Summary(ctx)
	require.NoError(t, err)
	_, err = e.svc.Licenses.Create(ctx, service.LicenseForm{Type: "pro", ProductName: "Atlas"})
	require.NoError(t, err)

	sum, err := e.svc.Dashboard.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalLicenses)
	assert.Equal(t, 2, e.srv.Hits(http.MethodGet, "/dashboard/summary"))
}

// --- api keys ---

func TestAPIKeys_CreatedSecretIsNeverCached(t *testing.T) {
	e := signedIn(t)
	ctx := context.Background()

	_, err := e.svc.APIKeys.List(ctx)
	require.NoError(t, err)

	created, err := e.svc.APIKeys.Create(ctx, service.APIKeyForm{Description: "CI"})
	require.NoError(t, err)
	require.NotEmpty(t, created.Secret())

	keys, err := e.svc.APIKeys.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, created.Prefix, keys[0].Prefix)
	assert.Equal(t, 2, e.srv.Hits(http.MethodGet, "/apikeys"))

	raw, found, err := e.mem.Get(ctx, cache.QueryKey(cache.ScopeAPIKeys, "all"))
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, string(raw), created.Secret())
}

func TestAPIKeys_CreateRequiresDescription(t *testing.T) {
	e := signedIn(t)

	_, err := e.svc.APIKeys.Create(context.Background(), service.APIKeyForm{})
	se := svcErr(t, err)
	assert.Equal(t, "Description is required", se.Fields["description"])
}

func TestAPIKeys_Revoke(t *testing.T) {
	e := signedIn(t)
	ctx := context.Background()
	created, err := e.svc.APIKeys.Create(ctx, service.APIKeyForm{Description: "CI"})
	require.NoError(t, err)

	require.NoError(t, e.svc.APIKeys.Revoke(ctx, created.ID))
	keys, err := e.svc.APIKeys.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].IsEnabled)

	se := svcErr(t, e.svc.APIKeys.Revoke(ctx, "missing"))
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "API key not found", se.Message)
}

// --- dashboard ---

func TestDashboard_Summary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := signedIn(t, apitest.WithClock(func() time.Time { return now }))
	in5 := now.Add(5 * 24 * time.Hour)
	in40 := now.Add(40 * 24 * time.Hour)
	e.srv.Store.SeedLicense(models.License{LicenseKey: "K-5", Type: "pro", ProductName: "Atlas", ExpiresAt: &in5})
	e.srv.Store.SeedLicense(models.License{LicenseKey: "K-40", Type: "pro", ProductName: "Atlas", ExpiresAt: &in40})
	e.srv.Store.SeedLicense(models.License{LicenseKey: "K-NIL", Type: "trial", ProductName: "Borealis"})

	sum, err := e.svc.Dashboard.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.TotalLicenses)
	assert.Equal(t, 1, sum.ExpiringSoon.Count)
	assert.Equal(t, 30, sum.ExpiringSoon.PeriodDays)
	require.NotNil(t, sum.ExpiringSoon.NextToExpire)
	assert.Equal(t, "K-5", sum.ExpiringSoon.NextToExpire.LicenseKey)
	assert.Equal(t, []models.DataPoint{{Name: "active", Label: "Active", Value: 3}}, sum.StatusSeries())
}
