package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kiranshivaraju/licensectl/pkg/models"
)

// ErrNoChanges is returned when an edit leaves the license as it was.
var ErrNoChanges = errors.New("No changes detected.")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// messages maps "<form field>.<tag>" to the text shown next to the field.
var messages = map[string]string{
	"type.required":         "License type is required",
	"product_name.required": "Product name is required",
	"customer_email.email":  "Invalid email address",
	"metadata.json":         "Metadata must be valid JSON or empty",
	"description.required":  "Description is required",
	"username.required":     "Username is required",
	"password.required":     "Password is required",
}

// LicenseForm is the create and edit form of a license. Empty optional
// fields mean "not set".
type LicenseForm struct {
	Type          string     `form:"type" validate:"required"`
	ProductName   string     `form:"product_name" validate:"required"`
	CustomerName  string     `form:"customer_name"`
	CustomerEmail string     `form:"customer_email" validate:"omitempty,email"`
	Metadata      string     `form:"metadata" validate:"omitempty,json"`
	ExpiresAt     *time.Time `form:"expires_at"`
}

// APIKeyForm is the form creating an API key.
type APIKeyForm struct {
	Description string `form:"description" validate:"required"`
}

// LoginForm is the password sign-in form.
type LoginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

// Validate checks a form. Failures come back as a KindValidation *Error
// whose Fields map each failing field to its message.
func Validate(op string, form any) error {
	return validationError(op, validate.Struct(form))
}

func validatePartial(op string, form any, fields ...string) error {
	return validationError(op, validate.StructPartial(form, fields...))
}

func validationError(op string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Op: op, Kind: KindValidation, Message: err.Error(), Err: err}
	}

	e := &Error{Op: op, Kind: KindValidation, Fields: make(map[string]string, len(verrs)), Err: err}
	for _, fe := range verrs {
		msg, ok := messages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = fe.Error()
		}
		e.Fields[fe.Field()] = msg
		if e.Message == "" {
			e.Message = msg
		}
	}
	return e
}

// FormFromLicense fills a form with the current values of l.
func FormFromLicense(l models.License) LicenseForm {
	f := LicenseForm{
		Type:          l.Type,
		ProductName:   l.ProductName,
		CustomerName:  deref(l.CustomerName),
		CustomerEmail: deref(l.CustomerEmail),
		ExpiresAt:     l.ExpiresAt,
	}
	if l.HasMetadata() {
		var buf bytes.Buffer
		if err := json.Indent(&buf, l.Metadata, "", "  "); err == nil {
			f.Metadata = buf.String()
		} else {
			f.Metadata = string(l.Metadata)
		}
	}
	return f
}

// CreateRequest validates f and builds the create payload.
func (f LicenseForm) CreateRequest() (models.CreateLicenseRequest, error) {
	if err := Validate("create license", f); err != nil {
		return models.CreateLicenseRequest{}, err
	}
	req := models.CreateLicenseRequest{
		Type:          f.Type,
		ProductName:   f.ProductName,
		CustomerName:  optional(f.CustomerName),
		CustomerEmail: optional(f.CustomerEmail),
		ExpiresAt:     f.ExpiresAt,
	}
	if f.Metadata != "" {
		req.Metadata = compact(f.Metadata)
	}
	return req, nil
}

// LicenseChanges builds the partial update turning current into form. Only
// fields that differ are included; cleared optional fields are sent as null.
// Returns ErrNoChanges when nothing differs.
func LicenseChanges(current models.License, form LicenseForm) (models.UpdateLicenseRequest, error) {
	var req models.UpdateLicenseRequest
	fields := []string{"CustomerEmail", "Metadata"}
	if form.Type != current.Type {
		fields = append(fields, "Type")
	}
	if form.ProductName != current.ProductName {
		fields = append(fields, "ProductName")
	}
	if err := validatePartial("update license", form, fields...); err != nil {
		return req, err
	}

	if form.Type != current.Type {
		req.Type = &form.Type
	}
	if form.ProductName != current.ProductName {
		req.ProductName = &form.ProductName
	}
	req.CustomerName = changedString(current.CustomerName, form.CustomerName)
	req.CustomerEmail = changedString(current.CustomerEmail, form.CustomerEmail)

	switch {
	case form.ExpiresAt == nil && current.ExpiresAt != nil:
		req.ExpiresAt = models.Null[time.Time]()
	case form.ExpiresAt != nil && (current.ExpiresAt == nil || !form.ExpiresAt.Equal(*current.ExpiresAt)):
		req.ExpiresAt = models.Some(form.ExpiresAt.UTC())
	}

	currentMeta := "null"
	if current.HasMetadata() {
		currentMeta = string(compact(string(current.Metadata)))
	}
	nextMeta := "null"
	if form.Metadata != "" {
		nextMeta = string(compact(form.Metadata))
	}
	if nextMeta != currentMeta {
		if nextMeta == "null" {
			req.Metadata = models.Null[json.RawMessage]()
		} else {
			req.Metadata = models.Some(json.RawMessage(nextMeta))
		}
	}

	if req.Empty() {
		return req, ErrNoChanges
	}
	return req, nil
}

// licenseFields maps form field names to LicenseForm struct fields.
var licenseFields = map[string]string{
	"type":           "Type",
	"product_name":   "ProductName",
	"customer_name":  "CustomerName",
	"customer_email": "CustomerEmail",
	"metadata":       "Metadata",
	"expires_at":     "ExpiresAt",
}

// LicensePatch builds a partial update carrying only the named form fields,
// for edits made without the current license at hand. Empty optional fields
// are sent as null.
func LicensePatch(form LicenseForm, fields ...string) (models.UpdateLicenseRequest, error) {
	const op = "update license"
	var req models.UpdateLicenseRequest

	structFields := make([]string, 0, len(fields))
	for _, f := range fields {
		sf, ok := licenseFields[f]
		if !ok {
			return req, invalid(op, fmt.Sprintf("Unknown license field %q.", f))
		}
		structFields = append(structFields, sf)
	}
	if err := validatePartial(op, form, structFields...); err != nil {
		return req, err
	}

	for _, f := range fields {
		switch f {
		case "type":
			req.Type = &form.Type
		case "product_name":
			req.ProductName = &form.ProductName
		case "customer_name":
			req.CustomerName = setOrNull(form.CustomerName)
		case "customer_email":
			req.CustomerEmail = setOrNull(form.CustomerEmail)
		case "metadata":
			if form.Metadata == "" {
				req.Metadata = models.Null[json.RawMessage]()
			} else {
				req.Metadata = models.Some(compact(form.Metadata))
			}
		case "expires_at":
			if form.ExpiresAt == nil {
				req.ExpiresAt = models.Null[time.Time]()
			} else {
				req.ExpiresAt = models.Some(form.ExpiresAt.UTC())
			}
		}
	}

	if req.Empty() {
		return req, ErrNoChanges
	}
	return req, nil
}

func setOrNull(s string) models.Nullable[string] {
	if s == "" {
		return models.Null[string]()
	}
	return models.Some(s)
}

func changedString(current *string, next string) models.Nullable[string] {
	switch {
	case next == "" && current != nil:
		return models.Null[string]()
	case next != "" && (current == nil || *current != next):
		return models.Some(next)
	default:
		return models.Nullable[string]{}
	}
}

func compact(s string) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return json.RawMessage(s)
	}
	return buf.Bytes()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
