// Package rectifier implements a multinomial naive Bayes text classifier with
// laplace smoothing, feature extraction and a json persistence format.
// Training builds an immutable Model; all inference operations are pure reads
// and safe for concurrent use.
package rectifier

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// sentinel errors returned by training, inference and persistence
var (
	ErrShapeMismatch = errors.New("texts and labels length mismatch")
	ErrEmptyModel    = errors.New("model has no trained labels")
	ErrCorruptModel  = errors.New("model document is corrupt")
	ErrInvalidConfig = errors.New("invalid feature config")
)

// Model is a trained multinomial naive Bayes classifier. It is built once by
// Train or Load and never mutated afterwards.
type Model struct {
	LabelCounts map[string]int            // label -> number of training documents
	TokenCounts map[string]map[string]int // label -> token -> occurrences
	TotalTokens map[string]int            // label -> total token occurrences
	Vocabulary  map[string]struct{}       // all tokens seen during training
	Config      FeatureConfig             // tokenization config used for training
	TrainedAt   string                    // rfc3339 training timestamp
	DatasetSize int                       // total number of training documents
}

// TokenContribution is a single token's share of the predicted label's
// log-likelihood.
type TokenContribution struct {
	Token        string  `json:"token"`
	Contribution float64 `json:"contribution"`
}

// TokenScore is a smoothed log-likelihood score of a token for a label.
type TokenScore struct {
	Token string  `json:"token"`
	Score float64 `json:"score"`
}

// Explanation is the result of Explain: the predicted label, the full
// probability distribution and the top contributing tokens.
type Explanation struct {
	Prediction    string              `json:"prediction"`
	Probabilities map[string]float64  `json:"probabilities"`
	TopTokens     []TokenContribution `json:"top_tokens"`
}

// Train builds a model from parallel slices of texts and labels in a single
// deterministic pass. Returns ErrShapeMismatch if the slices differ in length.
func Train(texts, labels []string, config FeatureConfig) (*Model, error) {
	if len(texts) != len(labels) {
		return nil, fmt.Errorf("%w: %d texts vs %d labels", ErrShapeMismatch, len(texts), len(labels))
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		LabelCounts: map[string]int{},
		TokenCounts: map[string]map[string]int{},
		TotalTokens: map[string]int{},
		Vocabulary:  map[string]struct{}{},
		Config:      config,
		TrainedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	for i, features := range Featurize(texts, config) {
		label := labels[i]
		m.LabelCounts[label]++
		bucket := m.TokenCounts[label]
		if bucket == nil {
			bucket = map[string]int{}
			m.TokenCounts[label] = bucket
		}
		for token, count := range features {
			bucket[token] += count
			m.TotalTokens[label] += count
			m.Vocabulary[token] = struct{}{}
		}
	}
	m.DatasetSize = len(texts)
	return m, nil
}

// Labels returns all trained labels in sorted order.
func (m *Model) Labels() []string {
	res := make([]string, 0, len(m.LabelCounts))
	for label := range m.LabelCounts {
		res = append(res, label)
	}
	sort.Strings(res)
	return res
}

// vocabSize returns the vocabulary size floored at one, keeping the smoothing
// denominator positive even for a model trained on no data.
func (m *Model) vocabSize() int {
	if len(m.Vocabulary) < 1 {
		return 1
	}
	return len(m.Vocabulary)
}

// logScores computes log-prior + smoothed log-likelihood for every label.
func (m *Model) logScores(features map[string]int) map[string]float64 {
	vocabSize := m.vocabSize()
	totalDocs := 0
	for _, count := range m.LabelCounts {
		totalDocs += count
	}

	scores := make(map[string]float64, len(m.LabelCounts))
	for label, docs := range m.LabelCounts {
		score := math.Log(float64(docs) / float64(totalDocs))
		bucket := m.TokenCounts[label]
		labelTotal := m.TotalTokens[label]
		for token, count := range features {
			score += float64(count) * math.Log(float64(bucket[token]+1)/float64(labelTotal+vocabSize))
		}
		scores[label] = score
	}
	return scores
}

// PredictProba returns the posterior probability for every label. The values
// are in [0, 1] and sum to one. Returns ErrEmptyModel for a model with no
// trained labels.
func (m *Model) PredictProba(text string) (map[string]float64, error) {
	if len(m.LabelCounts) == 0 {
		return nil, ErrEmptyModel
	}
	features := Featurize([]string{text}, m.Config)[0]
	return softmax(m.logScores(features)), nil
}

// Predict returns the most probable label. Exact ties resolve to the first
// label in sorted order.
func (m *Model) Predict(text string) (string, error) {
	probs, err := m.PredictProba(text)
	if err != nil {
		return "", err
	}
	return argmax(probs), nil
}

// Explain recomputes the per-token log-likelihood contributions for the
// predicted label and returns the topN largest, along with the full
// probability distribution. Contributions are usually negative but can exceed
// zero for tokens dominating a small vocabulary.
func (m *Model) Explain(text string, topN int) (Explanation, error) {
	if len(m.LabelCounts) == 0 {
		return Explanation{}, ErrEmptyModel
	}

	features := Featurize([]string{text}, m.Config)[0]
	scores := m.logScores(features)
	prediction := argmax(scores)

	vocabSize := m.vocabSize()
	bucket := m.TokenCounts[prediction]
	labelTotal := m.TotalTokens[prediction]

	contribs := make([]TokenContribution, 0, len(features))
	for token, count := range features {
		contrib := float64(count) * math.Log(float64(bucket[token]+1)/float64(labelTotal+vocabSize))
		contribs = append(contribs, TokenContribution{Token: token, Contribution: contrib})
	}
	sort.Slice(contribs, func(i, j int) bool {
		if contribs[i].Contribution != contribs[j].Contribution {
			return contribs[i].Contribution > contribs[j].Contribution
		}
		return contribs[i].Token < contribs[j].Token
	})
	if topN >= 0 && len(contribs) > topN {
		contribs = contribs[:topN]
	}

	return Explanation{Prediction: prediction, Probabilities: softmax(scores), TopTokens: contribs}, nil
}

// TopTokens returns the topN highest scored tokens the label has actually
// seen, characterizing its learned lexicon. Unlike Explain the scores carry no
// per-query count weighting.
func (m *Model) TopTokens(label string, topN int) ([]TokenScore, error) {
	if len(m.LabelCounts) == 0 {
		return nil, ErrEmptyModel
	}
	if _, ok := m.LabelCounts[label]; !ok {
		return nil, fmt.Errorf("unknown label %q", label)
	}

	vocabSize := m.vocabSize()
	labelTotal := m.TotalTokens[label]
	scored := make([]TokenScore, 0, len(m.TokenCounts[label]))
	for token, count := range m.TokenCounts[label] {
		scored = append(scored, TokenScore{
			Token: token,
			Score: math.Log(float64(count+1) / float64(labelTotal+vocabSize)),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Token < scored[j].Token
	})
	if topN >= 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	return scored, nil
}

// argmax returns the key with the highest value, ties broken by sorted order.
func argmax(scores map[string]float64) string {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestScore := "", math.Inf(-1)
	for _, k := range keys {
		if scores[k] > bestScore {
			best, bestScore = k, scores[k]
		}
	}
	return best
}

// softmax converts log scores to normalized probabilities. The max score is
// subtracted before exponentiation to keep the computation stable for extreme
// log values.
func softmax(logProbs map[string]float64) map[string]float64 {
	if len(logProbs) == 0 {
		return nil
	}

	maxLog := math.Inf(-1)
	for _, v := range logProbs {
		if v > maxLog {
			maxLog = v
		}
	}

	sum := 0.0
	probs := make(map[string]float64, len(logProbs))
	for k, v := range logProbs {
		e := math.Exp(v - maxLog)
		probs[k] = e
		sum += e
	}
	for k := range probs {
		probs[k] /= sum
	}
	return probs
}
