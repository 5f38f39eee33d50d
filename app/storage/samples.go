package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"
)

// Samples is a storage for labeled training samples.
type Samples struct {
	*SQL
	RWLocker
}

// Sample is a single labeled training text.
type Sample struct {
	ID        int64  `db:"id"`
	Timestamp string `db:"timestamp"`
	Label     string `db:"label"`
	Message   string `db:"message"`
}

var samplesSchema = query{
	sqlite: `CREATE TABLE IF NOT EXISTS samples (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        label TEXT NOT NULL,
        message TEXT NOT NULL,
        UNIQUE(label, message)
    );
    CREATE INDEX IF NOT EXISTS idx_samples_label ON samples(label)`,
	postgres: `CREATE TABLE IF NOT EXISTS samples (
        id SERIAL PRIMARY KEY,
        timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        label TEXT NOT NULL,
        message TEXT NOT NULL,
        UNIQUE(label, message)
    );
    CREATE INDEX IF NOT EXISTS idx_samples_label ON samples(label)`,
}

var addSampleQuery = query{
	sqlite:   `INSERT OR IGNORE INTO samples (label, message) VALUES (?, ?)`,
	postgres: `INSERT INTO samples (label, message) VALUES (?, ?) ON CONFLICT (label, message) DO NOTHING`,
}

// NewSamples creates the samples storage and initializes the schema.
func NewSamples(ctx context.Context, db *SQL) (*Samples, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	res := &Samples{SQL: db, RWLocker: db.MakeLock()}
	if _, err := db.ExecContext(ctx, samplesSchema.pick(db.Type())); err != nil {
		return nil, fmt.Errorf("failed to init samples storage: %w", err)
	}
	return res, nil
}

// Add inserts a single labeled sample, ignoring exact duplicates.
func (s *Samples) Add(ctx context.Context, label, message string) error {
	if label == "" || message == "" {
		return fmt.Errorf("label and message can't be empty")
	}
	s.Lock()
	defer s.Unlock()

	if _, err := s.ExecContext(ctx, s.Rebind(addSampleQuery.pick(s.Type())), label, message); err != nil {
		return fmt.Errorf("failed to add sample: %w", err)
	}
	return nil
}

// Import inserts a batch of labeled samples in a single transaction. Rows with
// empty fields are counted as failures but don't abort the batch; all row
// errors are aggregated in the returned error.
func (s *Samples) Import(ctx context.Context, texts, labels []string) (added int, err error) {
	if len(texts) != len(labels) {
		return 0, fmt.Errorf("texts and labels size mismatch: %d vs %d", len(texts), len(labels))
	}
	s.Lock()
	defer s.Unlock()

	tx, err := s.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("[WARN] failed to rollback samples import: %v", rbErr)
			}
		}
	}()

	stmt := s.Rebind(addSampleQuery.pick(s.Type()))
	var errs *multierror.Error
	for i, text := range texts {
		if text == "" || labels[i] == "" {
			errs = multierror.Append(errs, fmt.Errorf("row %d: empty text or label", i))
			continue
		}
		if _, execErr := tx.ExecContext(ctx, stmt, labels[i], text); execErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("row %d: %w", i, execErr))
			continue
		}
		added++
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit samples import: %w", err)
	}
	committed = true
	return added, errs.ErrorOrNil()
}

// Read returns all samples as parallel text and label slices, in insertion
// order, the shape the trainer consumes.
func (s *Samples) Read(ctx context.Context) (texts, labels []string, err error) {
	s.RLock()
	defer s.RUnlock()

	var samples []Sample
	if err = s.SelectContext(ctx, &samples, "SELECT id, label, message FROM samples ORDER BY id"); err != nil {
		return nil, nil, fmt.Errorf("failed to read samples: %w", err)
	}
	for _, sample := range samples {
		texts = append(texts, sample.Message)
		labels = append(labels, sample.Label)
	}
	return texts, labels, nil
}

// Stats returns the number of stored samples per label.
func (s *Samples) Stats(ctx context.Context) (map[string]int, error) {
	s.RLock()
	defer s.RUnlock()

	rows := []struct {
		Label string `db:"label"`
		Count int    `db:"count"`
	}{}
	if err := s.SelectContext(ctx, &rows, "SELECT label, COUNT(*) as count FROM samples GROUP BY label"); err != nil {
		return nil, fmt.Errorf("failed to get samples stats: %w", err)
	}
	res := make(map[string]int, len(rows))
	for _, row := range rows {
		res[row.Label] = row.Count
	}
	return res, nil
}
