package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/spam-rectifier/lib/rectifier"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name        string
		labels      []string
		predictions []string
		expected    Metrics
	}{
		{
			name:        "perfect predictions",
			labels:      []string{"spam", "ham", "spam"},
			predictions: []string{"spam", "ham", "spam"},
			expected:    Metrics{Precision: 1, Recall: 1, F1: 1, Accuracy: 1},
		},
		{
			name:        "all wrong",
			labels:      []string{"spam", "ham"},
			predictions: []string{"ham", "spam"},
			expected:    Metrics{Precision: 0, Recall: 0, F1: 0, Accuracy: 0},
		},
		{
			name:        "mixed results",
			labels:      []string{"spam", "spam", "ham", "ham"},
			predictions: []string{"spam", "ham", "spam", "ham"},
			expected:    Metrics{Precision: 0.5, Recall: 0.5, F1: 0.5, Accuracy: 0.5},
		},
		{
			name:        "no positives anywhere",
			labels:      []string{"ham", "ham"},
			predictions: []string{"ham", "ham"},
			expected:    Metrics{Precision: 0, Recall: 0, F1: 0, Accuracy: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(tt.labels, tt.predictions, "spam")
			require.NoError(t, err)
			assert.InDelta(t, tt.expected.Precision, res.Precision, 1e-9)
			assert.InDelta(t, tt.expected.Recall, res.Recall, 1e-9)
			assert.InDelta(t, tt.expected.F1, res.F1, 1e-9)
			assert.InDelta(t, tt.expected.Accuracy, res.Accuracy, 1e-9)
		})
	}
}

func TestEvaluate_ShapeMismatch(t *testing.T) {
	_, err := Evaluate([]string{"spam"}, []string{"spam", "ham"}, "spam")
	assert.ErrorIs(t, err, rectifier.ErrShapeMismatch)
}

func TestModelCard(t *testing.T) {
	card, err := ModelCard(CardInfo{
		Name:          "spam-rectifier",
		Version:       "1.0",
		Labels:        []string{"spam", "ham"},
		Metrics:       Metrics{Precision: 0.9, Recall: 0.8, F1: 0.8470588235, Accuracy: 0.85},
		DatasetSize:   100,
		TrainedAt:     "2025-06-01T12:00:00Z",
		PositiveLabel: "spam",
		TopTokens: map[string][]rectifier.TokenScore{
			"spam": {{Token: "free", Score: -2.1}, {Token: "prize", Score: -2.5}},
			"ham":  {{Token: "meeting", Score: -1.9}},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, card, "# Model Card: spam-rectifier")
	assert.Contains(t, card, "**Labels**: ham, spam")
	assert.Contains(t, card, "**Dataset Size**: 100")
	assert.Contains(t, card, "**Precision**: 0.900")
	assert.Contains(t, card, "**F1 Score**: 0.847")
	assert.Contains(t, card, "### Top tokens for `spam`")
	assert.Contains(t, card, "- `free` (-2.1000)")
	assert.Contains(t, card, "### Top tokens for `ham`")
	assert.Contains(t, card, "- `meeting` (-1.9000)")
	assert.Contains(t, card, "**Trained At**: 2025-06-01T12:00:00Z")
}
