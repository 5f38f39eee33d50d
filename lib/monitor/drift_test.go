package monitor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/spam-rectifier/lib/rectifier"
)

var (
	trainTexts  = []string{"Win a free prize today", "Let's sync on the proposal", "Claim your exclusive reward", "Lunch at 1 pm?"}
	trainLabels = []string{"spam", "ham", "spam", "ham"}
)

func trainedModel(t *testing.T) *rectifier.Model {
	t.Helper()
	m, err := rectifier.Train(trainTexts, trainLabels, rectifier.DefaultFeatureConfig())
	require.NoError(t, err)
	return m
}

func TestDriftReport_NoDriftOnTrainingData(t *testing.T) {
	m := trainedModel(t)

	res := DriftReport(m, trainTexts, 10)
	assert.InDelta(t, 0.0, res.JSDivergence, 1e-12, "same distribution must yield zero divergence")
	assert.Equal(t, len(trainTexts), res.DataSize)
	for _, shift := range res.TopShiftedTokens {
		assert.InDelta(t, 0.0, shift.Delta, 1e-12)
	}
}

func TestDriftReport_NovelTokens(t *testing.T) {
	m := trainedModel(t)

	res := DriftReport(m, []string{"crypto doubler guaranteed returns"}, 10)
	assert.Greater(t, res.JSDivergence, 0.0)
	assert.LessOrEqual(t, res.JSDivergence, 1.0)
	assert.Equal(t, 1, res.DataSize)

	// the most shifted tokens come from the new sample
	require.NotEmpty(t, res.TopShiftedTokens)
	top := res.TopShiftedTokens[0]
	assert.Zero(t, top.ModelProb)
	assert.Greater(t, top.DataProb, 0.0)
	assert.Greater(t, top.Delta, 0.0)
}

func TestDriftReport_TopNTruncation(t *testing.T) {
	m := trainedModel(t)

	res := DriftReport(m, trainTexts[:2], 5)
	assert.Equal(t, 2, res.DataSize)
	assert.GreaterOrEqual(t, res.JSDivergence, 0.0)
	assert.LessOrEqual(t, len(res.TopShiftedTokens), 5)

	for i := 1; i < len(res.TopShiftedTokens); i++ {
		assert.GreaterOrEqual(t,
			math.Abs(res.TopShiftedTokens[i-1].Delta),
			math.Abs(res.TopShiftedTokens[i].Delta),
			"shifts must be sorted by absolute delta")
	}
}

func TestDriftReport_EmptyInputs(t *testing.T) {
	t.Run("empty model and empty batch", func(t *testing.T) {
		m, err := rectifier.Train(nil, nil, rectifier.DefaultFeatureConfig())
		require.NoError(t, err)
		res := DriftReport(m, nil, 10)
		assert.Zero(t, res.JSDivergence)
		assert.Zero(t, res.DataSize)
		assert.Empty(t, res.TopShiftedTokens)
	})

	t.Run("empty batch against trained model", func(t *testing.T) {
		m := trainedModel(t)
		res := DriftReport(m, nil, 10)
		assert.Greater(t, res.JSDivergence, 0.0, "empty batch diverges from a non-empty model distribution")
		assert.LessOrEqual(t, res.JSDivergence, 1.0)
		assert.Zero(t, res.DataSize)
	})
}

func TestTokenDistribution(t *testing.T) {
	config := rectifier.FeatureConfig{MinTokenLength: 2}
	dist := TokenDistribution([]string{"free prize", "free lunch"}, config)

	require.Len(t, dist, 3)
	assert.InDelta(t, 0.5, dist["free"], 1e-12)
	assert.InDelta(t, 0.25, dist["prize"], 1e-12)
	assert.InDelta(t, 0.25, dist["lunch"], 1e-12)

	sum := 0.0
	for _, p := range dist {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestModelDistribution(t *testing.T) {
	m := trainedModel(t)
	dist := ModelDistribution(m)

	sum := 0.0
	for _, p := range dist {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestJensenShannon_Bounds(t *testing.T) {
	p := map[string]float64{"a": 1.0}
	q := map[string]float64{"b": 1.0}
	assert.InDelta(t, 1.0, jensenShannon(p, q), 1e-9, "disjoint distributions diverge maximally")
	assert.Zero(t, jensenShannon(map[string]float64{}, map[string]float64{}))
	assert.InDelta(t, 0.0, jensenShannon(p, map[string]float64{"a": 1.0}), 1e-12)
}
