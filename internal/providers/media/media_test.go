package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArticle_IsAdverse(t *testing.T) {
	tests := []struct {
		name    string
		article Article
		want    bool
	}{
		{"neutral coverage", Article{Sentiment: 0.1, Category: "markets"}, false},
		{"threshold is inclusive", Article{Sentiment: NegativeSentimentThreshold}, true},
		{"strongly negative", Article{Sentiment: -0.8}, true},
		{"adverse category despite neutral tone", Article{Sentiment: 0.2, Category: "Regulatory Enforcement"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.article.IsAdverse())
		})
	}
}

func TestResult_Adverse(t *testing.T) {
	r := Result{Articles: []Article{
		{Title: "record quarter", Sentiment: 0.7},
		{Title: "fraud probe", Sentiment: -0.6},
	}}
	adverse := r.Adverse()
	assert.Len(t, adverse, 1)
	assert.Equal(t, "fraud probe", adverse[0].Title)
}
