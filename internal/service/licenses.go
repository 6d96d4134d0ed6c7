package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kiranshivaraju/licensectl/internal/apiclient"
	"github.com/kiranshivaraju/licensectl/internal/cache"
	"github.com/kiranshivaraju/licensectl/internal/querycache"
	"github.com/kiranshivaraju/licensectl/pkg/listquery"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"go.uber.org/zap"
)

// Licenses wraps the /licenses endpoints.
type Licenses struct {
	api   *apiclient.Client
	cache *querycache.Client
	ttl   time.Duration
	log   *zap.Logger
}

// List fetches one page of licenses for p.
func (s *Licenses) List(ctx context.Context, p listquery.Params, opts ...ReadOption) (*models.LicensePage, error) {
	o := applyReadOptions(opts)
	page, err := querycache.Fetch(ctx, s.cache, cache.ScopeLicenses, p.Key(), s.ttl, o.fresh,
		func(ctx context.Context) (models.LicensePage, error) {
			var page models.LicensePage
			err := s.api.Get(ctx, "/licenses", p.Values(), &page)
			return page, err
		})
	if err != nil {
		return nil, fail(s.log, "list licenses", "Failed to fetch licenses", err)
	}
	if page.Licenses == nil {
		page.Licenses = []models.License{}
	}
	return &page, nil
}

// Create validates form and creates the license.
func (s *Licenses) Create(ctx context.Context, form LicenseForm) (*models.License, error) {
	req, err := form.CreateRequest()
	if err != nil {
		return nil, err
	}

	var lic models.License
	if err := s.api.Post(ctx, "/licenses", req, &lic); err != nil {
		return nil, fail(s.log, "create license", "Failed to create license", err)
	}
	s.cache.Invalidate(ctx, cache.ScopeLicenses, cache.ScopeDashboard)
	return &lic, nil
}

// Update sends a partial update. An empty request is refused with
// ErrNoChanges without contacting the server.
func (s *Licenses) Update(ctx context.Context, id string, req models.UpdateLicenseRequest) (*models.License, error) {
	if req.Empty() {
		return nil, ErrNoChanges
	}

	var lic models.License
	if err := s.api.Patch(ctx, "/licenses/"+url.PathEscape(id), req, &lic); err != nil {
		return nil, fail(s.log, "update license", "Failed to update license", err)
	}
	s.cache.Invalidate(ctx, cache.ScopeLicenses, cache.ScopeDashboard)
	return &lic, nil
}

// Edit applies form to current, sending only the fields that changed.
func (s *Licenses) Edit(ctx context.Context, current models.License, form LicenseForm) (*models.License, error) {
	req, err := LicenseChanges(current, form)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, current.ID, req)
}

// ChangeStatus asks the server to move license id to status. Whether the
// transition is allowed is the server's decision.
func (s *Licenses) ChangeStatus(ctx context.Context, id string, status models.LicenseStatus) error {
	return s.changeStatus(ctx, "change license status", fmt.Sprintf("Failed to change status to %s", status), id, status)
}

// SetStatus is ChangeStatus for a license already on screen. Asking for the
// status it already has is refused locally.
func (s *Licenses) SetStatus(ctx context.Context, lic models.License, status models.LicenseStatus) error {
	if status == lic.Status {
		return invalid("change license status", fmt.Sprintf("License is already %s.", status))
	}
	return s.ChangeStatus(ctx, lic.ID, status)
}

// Revoke moves license id to revoked. Licenses are never deleted.
func (s *Licenses) Revoke(ctx context.Context, id string) error {
	return s.changeStatus(ctx, "revoke license", "Failed to revoke license.", id, models.LicenseStatusRevoked)
}

func (s *Licenses) changeStatus(ctx context.Context, op, fallback, id string, status models.LicenseStatus) error {
	if !status.Valid() {
		return invalid(op, fmt.Sprintf("Unknown license status %q.", status))
	}
	if id == "" {
		return invalid(op, "License id is required")
	}

	err := s.api.Patch(ctx, "/licenses/"+url.PathEscape(id)+"/status", models.ChangeStatusRequest{Status: status}, nil)
	if err != nil {
		return fail(s.log, op, fallback, err)
	}
	s.cache.Invalidate(ctx, cache.ScopeLicenses, cache.ScopeDashboard)
	return nil
}

// IsNoChanges reports whether err is ErrNoChanges.
func IsNoChanges(err error) bool {
	return errors.Is(err, ErrNoChanges)
}
