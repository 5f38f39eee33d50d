package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// labeledDataset is a parallel set of texts and labels loaded from csv.
type labeledDataset struct {
	texts  []string
	labels []string
}

// loadCSV reads a dataset from a csv file with "text" and "label" columns.
// Rows with an empty text or label are skipped.
func loadCSV(path string) (labeledDataset, error) {
	fh, err := os.Open(path) //nolint:gosec // path is an explicit user-provided location
	if err != nil {
		return labeledDataset{}, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	defer fh.Close()
	return readCSV(fh)
}

func readCSV(r io.Reader) (labeledDataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return labeledDataset{}, fmt.Errorf("failed to read csv header: %w", err)
	}

	textIdx, labelIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "text":
			textIdx = i
		case "label":
			labelIdx = i
		}
	}
	if textIdx < 0 || labelIdx < 0 {
		return labeledDataset{}, fmt.Errorf("csv must contain 'text' and 'label' columns")
	}

	var res labeledDataset
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return labeledDataset{}, fmt.Errorf("failed to read csv row: %w", err)
		}
		if textIdx >= len(row) || labelIdx >= len(row) {
			continue
		}
		text := strings.TrimSpace(row[textIdx])
		label := strings.TrimSpace(row[labelIdx])
		if text == "" || label == "" {
			continue
		}
		res.texts = append(res.texts, text)
		res.labels = append(res.labels, label)
	}
	return res, nil
}
