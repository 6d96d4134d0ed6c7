package apitest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/licensectl/pkg/models"
)

const defaultPageSize = 10

var sortableColumns = map[string]bool{
	"license_key":    true,
	"status":         true,
	"type":           true,
	"product_name":   true,
	"customer_email": true,
	"expires_at":     true,
	"created_at":     true,
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "username and password are required")
		return
	}

	u, ok := s.Store.checkPassword(req.Username, req.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password")
		return
	}
	tok, err := s.tokens.issue(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, models.LoginResponse{AccessToken: tok})
}

func (s *Server) handleListLicenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{
		Status:      q.Get("status"),
		Email:       q.Get("email"),
		ProductName: q.Get("product_name"),
		Type:        q.Get("type"),
		Limit:       defaultPageSize,
		SortBy:      q.Get("sort_by"),
		SortOrder:   strings.ToUpper(q.Get("sort_order")),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "offset must be a non-negative integer")
			return
		}
		f.Offset = n
	}
	if f.SortBy != "" && !sortableColumns[f.SortBy] {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "sort_by is not a sortable column")
		return
	}
	if f.SortOrder != "" && f.SortOrder != "ASC" && f.SortOrder != "DESC" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "sort_order must be ASC or DESC")
		return
	}
	if f.Status != "" && !models.LicenseStatus(f.Status).Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "status is not a known license status")
		return
	}

	licenses, total := s.Store.ListLicenses(f)
	writeJSON(w, http.StatusOK, models.LicensePage{Licenses: licenses, TotalCount: total})
}

func (s *Server) handleCreateLicense(w http.ResponseWriter, r *http.Request) {
	var req models.CreateLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "type is required")
		return
	}
	if req.ProductName == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "product_name is required")
		return
	}
	if !validMetadata(req.Metadata) {
		writeError(w, http.StatusBadRequest, "INVALID_METADATA", "metadata must be a JSON object")
		return
	}

	writeJSON(w, http.StatusCreated, s.Store.CreateLicense(req))
}

func (s *Server) handleUpdateLicense(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if (req.Type != nil && *req.Type == "") || (req.ProductName != nil && *req.ProductName == "") {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "type and product_name cannot be empty")
		return
	}
	if req.Metadata.Set && !req.Metadata.Null && !validMetadata(req.Metadata.Value) {
		writeError(w, http.StatusBadRequest, "INVALID_METADATA", "metadata must be a JSON object")
		return
	}

	l, err := s.Store.UpdateLicense(chi.URLParam(r, "id"), req)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "License not found")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req models.ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "status is not a known license status")
		return
	}

	l, err := s.Store.ChangeStatus(chi.URLParam(r, "id"), req.Status)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "License not found")
	case errors.Is(err, ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	default:
		writeJSON(w, http.StatusOK, l)
	}
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.ListAPIKeys())
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "description is required")
		return
	}

	created, err := s.Store.CreateAPIKey(req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create API key")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.RevokeAPIKey(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "API key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	period := models.DefaultExpiringPeriodDays
	if v := r.URL.Query().Get("period_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "period_days must be a positive integer")
			return
		}
		period = n
	}
	writeJSON(w, http.StatusOK, Summarize(s.Store.allLicenses(), s.now(), period))
}

func validMetadata(raw json.RawMessage) bool {
	if len(nullToEmpty(raw)) == 0 {
		return true
	}
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil
}
