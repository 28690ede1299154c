// Package media is the adverse-media monitoring client.
package media

import (
	"context"
	"time"

	"brokerguard/internal/providers"
	pkgstrings "brokerguard/pkg/platform/strings"
)

//go:generate mockgen -source=media.go -destination=../mocks/media_mock.go -package=mocks

// Monitor returns recent press coverage for an entity.
type Monitor interface {
	Coverage(ctx context.Context, name string) (Result, error)
}

type Article struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	URL         string    `json:"url,omitempty"`
	Category    string    `json:"category,omitempty"`
	Sentiment   float64   `json:"sentiment"` // -1 (very negative) .. 1 (very positive)
	PublishedAt time.Time `json:"published_at"`
}

type Result struct {
	Articles []Article `json:"articles"`
}

// NegativeSentimentThreshold is the sentiment at or below which an article
// counts as adverse.
const NegativeSentimentThreshold = -0.25

var adverseCategories = []string{"fraud", "sanction", "laundering", "enforcement", "fine", "investigation", "corruption"}

// IsAdverse reports whether an article is negative coverage.
func (a Article) IsAdverse() bool {
	if a.Sentiment <= NegativeSentimentThreshold {
		return true
	}
	return pkgstrings.ContainsAnyFold(a.Category, adverseCategories...)
}

// Adverse returns the articles classified as negative coverage.
func (r Result) Adverse() []Article {
	var out []Article
	for _, a := range r.Articles {
		if a.IsAdverse() {
			out = append(out, a)
		}
	}
	return out
}

type HTTPMonitor struct {
	client *providers.JSONClient
}

func NewHTTPMonitor(client *providers.JSONClient) *HTTPMonitor {
	return &HTTPMonitor{client: client}
}

func (m *HTTPMonitor) Coverage(ctx context.Context, name string) (Result, error) {
	in := struct {
		Name string `json:"name"`
	}{name}
	var out Result
	if err := m.client.Post(ctx, "/coverage", "media:coverage", in, &out); err != nil {
		return Result{}, err
	}
	return out, nil
}
