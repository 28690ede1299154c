// Package screening is the sanctions/PEP screening client.
package screening

import (
	"context"

	"brokerguard/internal/providers"
)

//go:generate mockgen -source=screening.go -destination=../mocks/screening_mock.go -package=mocks

// Screener checks a person or entity against sanctions and PEP lists.
type Screener interface {
	Check(ctx context.Context, name, registrationNumber string) (Result, error)
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

type Match struct {
	ListName string  `json:"list_name"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"` // SANCTIONS or PEP
	Score    float64 `json:"score"`
}

type Result struct {
	Matches   []Match   `json:"matches"`
	RiskLevel RiskLevel `json:"risk_level"`
}

func (r Result) HasMatches() bool { return len(r.Matches) > 0 }

// HasKind reports whether any match is of the given kind.
func (r Result) HasKind(kind string) bool {
	for _, m := range r.Matches {
		if m.Kind == kind {
			return true
		}
	}
	return false
}

const (
	KindSanctions = "SANCTIONS"
	KindPEP       = "PEP"
)

type HTTPScreener struct {
	client *providers.JSONClient
}

func NewHTTPScreener(client *providers.JSONClient) *HTTPScreener {
	return &HTTPScreener{client: client}
}

func (s *HTTPScreener) Check(ctx context.Context, name, registrationNumber string) (Result, error) {
	in := struct {
		Name               string `json:"name"`
		RegistrationNumber string `json:"registration_number,omitempty"`
	}{name, registrationNumber}
	var out Result
	if err := s.client.Post(ctx, "/screen", "screening:check", in, &out); err != nil {
		return Result{}, err
	}
	return out, nil
}
