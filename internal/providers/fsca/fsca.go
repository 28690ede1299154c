// Package fsca is the license registry client for the financial-services regulator.
package fsca

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"brokerguard/internal/providers"
)

//go:generate mockgen -source=fsca.go -destination=../mocks/fsca_mock.go -package=mocks

// Registry verifies licenses against the regulator.
type Registry interface {
	Verify(ctx context.Context, req VerifyRequest) (LicenseResult, error)
	CheckStatus(ctx context.Context, licenseNumber string) (LicenseResult, error)
}

type VerifyRequest struct {
	LicenseNumber      string           `json:"license_number"`
	RegistrationNumber string           `json:"registration_number"`
	Category           string           `json:"category,omitempty"`
	Directors          []string         `json:"directors,omitempty"`
	AUM                *decimal.Decimal `json:"aum,omitempty"`
}

type LicenseResult struct {
	IsValid       bool       `json:"is_valid"`
	LicenseStatus string     `json:"license_status"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	Restrictions  []string   `json:"restrictions,omitempty"`
	RiskRating    string     `json:"risk_rating,omitempty"`
}

// HTTPRegistry calls the regulator registry over JSON/HTTP.
type HTTPRegistry struct {
	client *providers.JSONClient
}

func NewHTTPRegistry(client *providers.JSONClient) *HTTPRegistry {
	return &HTTPRegistry{client: client}
}

func (r *HTTPRegistry) Verify(ctx context.Context, req VerifyRequest) (LicenseResult, error) {
	var out LicenseResult
	if err := r.client.Post(ctx, "/licenses/verify", "license:verify", req, &out); err != nil {
		return LicenseResult{}, err
	}
	return out, nil
}

func (r *HTTPRegistry) CheckStatus(ctx context.Context, licenseNumber string) (LicenseResult, error) {
	var out LicenseResult
	in := struct {
		LicenseNumber string `json:"license_number"`
	}{licenseNumber}
	if err := r.client.Post(ctx, "/licenses/status", "license:status", in, &out); err != nil {
		return LicenseResult{}, err
	}
	return out, nil
}
