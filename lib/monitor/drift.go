// Package monitor detects vocabulary drift between a trained model and fresh
// inference traffic by comparing token distributions with the Jensen-Shannon
// divergence.
package monitor

import (
	"math"
	"sort"

	"github.com/umputun/spam-rectifier/lib/rectifier"
)

// probFloor avoids log(0) on tokens absent from one of the distributions
const probFloor = 1e-12

// TokenShift is a single token's probability change between the model's
// training distribution and the new data.
type TokenShift struct {
	Token     string  `json:"token"`
	ModelProb float64 `json:"model_prob"`
	DataProb  float64 `json:"data_prob"`
	Delta     float64 `json:"delta"`
}

// Report is the drift analysis result. JSDivergence is in bits, bounded to
// [0, 1], zero iff the distributions are identical.
type Report struct {
	JSDivergence     float64      `json:"js_divergence"`
	TopShiftedTokens []TokenShift `json:"top_shifted_tokens"`
	DataSize         int          `json:"data_size"`
}

// TokenDistribution tokenizes texts under config and returns the normalized
// token probability distribution. Empty input yields an empty distribution.
func TokenDistribution(texts []string, config rectifier.FeatureConfig) map[string]float64 {
	counts := map[string]int{}
	for _, features := range rectifier.Featurize(texts, config) {
		for token, count := range features {
			counts[token] += count
		}
	}
	return normalize(counts)
}

// ModelDistribution aggregates the model's token counts across all labels into
// a single normalized distribution.
func ModelDistribution(m *rectifier.Model) map[string]float64 {
	counts := map[string]int{}
	for _, bucket := range m.TokenCounts {
		for token, count := range bucket {
			counts[token] += count
		}
	}
	return normalize(counts)
}

// DriftReport compares the model's aggregate token distribution against the
// distribution of the given texts, tokenized under the model's own config.
// Shifted tokens are ranked by absolute delta and truncated to topN.
func DriftReport(m *rectifier.Model, texts []string, topN int) Report {
	modelDist := ModelDistribution(m)
	dataDist := TokenDistribution(texts, m.Config)

	union := map[string]struct{}{}
	for token := range modelDist {
		union[token] = struct{}{}
	}
	for token := range dataDist {
		union[token] = struct{}{}
	}

	shifts := make([]TokenShift, 0, len(union))
	for token := range union {
		modelProb := modelDist[token]
		dataProb := dataDist[token]
		shifts = append(shifts, TokenShift{
			Token:     token,
			ModelProb: modelProb,
			DataProb:  dataProb,
			Delta:     dataProb - modelProb,
		})
	}
	sort.Slice(shifts, func(i, j int) bool {
		di, dj := math.Abs(shifts[i].Delta), math.Abs(shifts[j].Delta)
		if di != dj {
			return di > dj
		}
		return shifts[i].Token < shifts[j].Token
	})
	if topN >= 0 && len(shifts) > topN {
		shifts = shifts[:topN]
	}

	return Report{
		JSDivergence:     jensenShannon(modelDist, dataDist),
		TopShiftedTokens: shifts,
		DataSize:         len(texts),
	}
}

func normalize(counts map[string]int) map[string]float64 {
	total := 0
	for _, count := range counts {
		total += count
	}
	if total == 0 {
		return map[string]float64{}
	}
	res := make(map[string]float64, len(counts))
	for token, count := range counts {
		res[token] = float64(count) / float64(total)
	}
	return res
}

// jensenShannon computes JSD(P,Q) = (KL(P||M) + KL(Q||M)) / 2 with
// M = (P+Q)/2, in log base 2. Zero for two empty distributions.
func jensenShannon(p, q map[string]float64) float64 {
	union := map[string]struct{}{}
	for k := range p {
		union[k] = struct{}{}
	}
	for k := range q {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}

	m := make(map[string]float64, len(union))
	for k := range union {
		m[k] = 0.5 * (p[k] + q[k])
	}
	return 0.5*klDivergence(p, m) + 0.5*klDivergence(q, m)
}

// klDivergence sums a[k]*log2(a[k]/b[k]) over keys with a[k] > 0, flooring the
// denominator at probFloor.
func klDivergence(a, b map[string]float64) float64 {
	score := 0.0
	for k, av := range a {
		if av == 0 {
			continue
		}
		bv := b[k]
		if bv < probFloor {
			bv = probFloor
		}
		score += av * math.Log2(av/bv)
	}
	return score
}
