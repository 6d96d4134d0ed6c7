package models

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateLicenseRequest_Encoding(t *testing.T) {
	typ := "enterprise"
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		req  UpdateLicenseRequest
		want string
	}{
		{"absent fields are omitted", UpdateLicenseRequest{}, `{}`},
		{"null clears", UpdateLicenseRequest{CustomerName: Null[string](), Metadata: Null[json.RawMessage]()}, `{"customer_name":null,"metadata":null}`},
		{"values are sent", UpdateLicenseRequest{Type: &typ, ExpiresAt: Some(exp)}, `{"type":"enterprise","expires_at":"2030-01-02T03:04:05Z"}`},
		{"raw metadata is embedded", UpdateLicenseRequest{Metadata: Some(json.RawMessage(`{"seats":3}`))}, `{"metadata":{"seats":3}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.req)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
			assert.Equal(t, tt.want == `{}`, tt.req.Empty())
		})
	}
}

func TestNullable_Unmarshal(t *testing.T) {
	var req UpdateLicenseRequest
	require.NoError(t, json.Unmarshal([]byte(`{"customer_name":null,"customer_email":"a@example.com"}`), &req))

	assert.True(t, req.CustomerName.Set)
	assert.True(t, req.CustomerName.Null)
	assert.Equal(t, Some("a@example.com"), req.CustomerEmail)
	assert.False(t, req.ExpiresAt.Set)
}

func TestCreateLicenseRequest_SendsExplicitNulls(t *testing.T) {
	data, err := json.Marshal(CreateLicenseRequest{Type: "trial", ProductName: "Atlas"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"trial","product_name":"Atlas","customer_name":null,"customer_email":null,"metadata":null,"expires_at":null}`, string(data))
}

func TestCreatedAPIKey_Redacted(t *testing.T) {
	k := CreatedAPIKey{ID: "k1", FullKey: "lm_0123abcd_secret", Prefix: "0123abcd", Description: "ci"}

	for _, format := range []string{"%v", "%+v", "%#v", "%s"} {
		out := fmt.Sprintf(format, k)
		assert.NotContains(t, out, "secret", format)
		assert.Contains(t, out, "[REDACTED]", format)
	}
	assert.NotContains(t, fmt.Sprintf("%v", &k), "secret")
	assert.Equal(t, "lm_0123abcd_secret", k.Secret())
}

func TestParseLicenseStatus(t *testing.T) {
	s, err := ParseLicenseStatus(" Revoked ")
	require.NoError(t, err)
	assert.Equal(t, LicenseStatusRevoked, s)

	_, err = ParseLicenseStatus("paused")
	assert.EqualError(t, err, `unknown license status "paused"`)
}

func TestLicense_HasMetadata(t *testing.T) {
	assert.False(t, License{}.HasMetadata())
	assert.False(t, License{Metadata: json.RawMessage(" null ")}.HasMetadata())
	assert.True(t, License{Metadata: json.RawMessage(`{}`)}.HasMetadata())
}

func TestDashboardSummary_Series(t *testing.T) {
	sum := DashboardSummary{
		StatusCounts:  map[string]int{"revoked": 1, "active": 4, "expired": 2},
		TypeCounts:    map[string]int{"trial": 2, "enterprise": 5},
		ProductCounts: map[string]int{},
	}

	assert.Equal(t, []DataPoint{
		{Name: "active", Label: "Active", Value: 4},
		{Name: "expired", Label: "Expired", Value: 2},
		{Name: "revoked", Label: "Revoked", Value: 1},
	}, sum.StatusSeries())
	assert.Equal(t, []DataPoint{
		{Name: "enterprise", Label: "enterprise", Value: 5},
		{Name: "trial", Label: "trial", Value: 2},
	}, sum.TypeSeries())
	assert.Empty(t, sum.ProductSeries())
}
