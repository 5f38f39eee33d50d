package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	tbl := []struct {
		name   string
		input  string
		texts  []string
		labels []string
		err    bool
	}{
		{
			name:   "basic",
			input:  "text,label\nWin a free prize,spam\nLunch at noon,ham\n",
			texts:  []string{"Win a free prize", "Lunch at noon"},
			labels: []string{"spam", "ham"},
		},
		{
			name:   "reversed columns with extra",
			input:  "id,label,text\n1,spam,Claim your reward\n2,ham,See you tomorrow\n",
			texts:  []string{"Claim your reward", "See you tomorrow"},
			labels: []string{"spam", "ham"},
		},
		{
			name:   "header case insensitive",
			input:  "Text,LABEL\nhello there,ham\n",
			texts:  []string{"hello there"},
			labels: []string{"ham"},
		},
		{
			name:   "blank rows skipped",
			input:  "text,label\n,spam\nhello,\nreal message,ham\n",
			texts:  []string{"real message"},
			labels: []string{"ham"},
		},
		{
			name:   "short rows skipped",
			input:  "text,label\nonly-text\ngood one,spam\n",
			texts:  []string{"good one"},
			labels: []string{"spam"},
		},
		{
			name:  "missing label column",
			input: "text,category\nhello,spam\n",
			err:   true,
		},
		{
			name:  "empty input",
			input: "",
			err:   true,
		},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			res, err := readCSV(strings.NewReader(tt.input))
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.texts, res.texts)
			assert.Equal(t, tt.labels, res.labels)
		})
	}
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("text,label\nfree prize,spam\n"), 0o600))

	res, err := loadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"free prize"}, res.texts)
	assert.Equal(t, []string{"spam"}, res.labels)

	_, err = loadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
