package rectifier

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// modelDoc is the persisted snapshot. All top-level keys except metadata are
// required; counts are stored as integers and the vocabulary is sorted for
// reproducible diffs.
type modelDoc struct {
	LabelCounts map[string]int            `json:"label_counts"`
	TokenCounts map[string]map[string]int `json:"token_counts"`
	TotalTokens map[string]int            `json:"total_tokens"`
	Vocabulary  []string                  `json:"vocabulary"`
	Config      *FeatureConfig            `json:"config"`
	Metadata    *modelMeta                `json:"metadata,omitempty"`
}

type modelMeta struct {
	TrainedAt   string `json:"trained_at"`
	DatasetSize int    `json:"dataset_size"`
}

// Encode writes the model snapshot as indented json.
func (m *Model) Encode(w io.Writer) error {
	vocab := make([]string, 0, len(m.Vocabulary))
	for token := range m.Vocabulary {
		vocab = append(vocab, token)
	}
	sort.Strings(vocab)

	config := m.Config
	doc := modelDoc{
		LabelCounts: m.LabelCounts,
		TokenCounts: m.TokenCounts,
		TotalTokens: m.TotalTokens,
		Vocabulary:  vocab,
		Config:      &config,
		Metadata:    &modelMeta{TrainedAt: m.TrainedAt, DatasetSize: m.DatasetSize},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return nil
}

// Save writes the model snapshot to path atomically, i.e. a failed write
// leaves the previous file untouched. The write goes to a temp file in the
// same directory, followed by rename.
func (m *Model) Save(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp model file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after successful rename

	if err = m.Encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp model file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace model file %s: %w", path, err)
	}
	return nil
}

// Decode parses a model snapshot. Missing or malformed required keys result in
// ErrCorruptModel, a bad feature config in ErrInvalidConfig. The stored counts
// are taken as ground truth, nothing is recomputed. Missing metadata falls
// back to the current timestamp and zero dataset size.
func Decode(r io.Reader) (*Model, error) {
	var doc modelDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	if doc.LabelCounts == nil || doc.TokenCounts == nil || doc.TotalTokens == nil ||
		doc.Vocabulary == nil || doc.Config == nil {
		return nil, fmt.Errorf("%w: missing required keys", ErrCorruptModel)
	}
	if err := doc.Config.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		LabelCounts: doc.LabelCounts,
		TokenCounts: doc.TokenCounts,
		TotalTokens: doc.TotalTokens,
		Vocabulary:  make(map[string]struct{}, len(doc.Vocabulary)),
		Config:      *doc.Config,
		TrainedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	for _, token := range doc.Vocabulary {
		m.Vocabulary[token] = struct{}{}
	}
	for label, bucket := range m.TokenCounts {
		if bucket == nil {
			m.TokenCounts[label] = map[string]int{}
		}
	}
	if doc.Metadata != nil {
		if doc.Metadata.TrainedAt != "" {
			m.TrainedAt = doc.Metadata.TrainedAt
		}
		m.DatasetSize = doc.Metadata.DatasetSize
	}
	return m, nil
}

// Load reads a model snapshot from path.
func Load(path string) (*Model, error) {
	fh, err := os.Open(path) //nolint:gosec // path is an explicit user-provided location
	if err != nil {
		return nil, fmt.Errorf("failed to open model file %s: %w", path, err)
	}
	defer fh.Close()

	m, err := Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("failed to load model from %s: %w", path, err)
	}
	return m, nil
}
