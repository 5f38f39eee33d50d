// Package report computes evaluation metrics for a trained classifier and
// renders a model card markdown document.
package report

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/umputun/spam-rectifier/lib/rectifier"
)

// Metrics is a binary classification quality summary against a positive label.
type Metrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Accuracy  float64 `json:"accuracy"`
}

// Evaluate computes precision, recall, F1 and accuracy for predictions against
// ground truth labels, treating positive as the positive class.
func Evaluate(labels, predictions []string, positive string) (Metrics, error) {
	if len(labels) != len(predictions) {
		return Metrics{}, fmt.Errorf("%w: %d labels vs %d predictions",
			rectifier.ErrShapeMismatch, len(labels), len(predictions))
	}

	var tp, fp, fn int
	for i, label := range labels {
		pred := predictions[i]
		switch {
		case label == positive && pred == positive:
			tp++
		case label != positive && pred == positive:
			fp++
		case label == positive && pred != positive:
			fn++
		}
	}
	tn := len(labels) - tp - fp - fn

	res := Metrics{}
	if tp+fp > 0 {
		res.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		res.Recall = float64(tp) / float64(tp+fn)
	}
	if res.Precision+res.Recall > 0 {
		res.F1 = 2 * res.Precision * res.Recall / (res.Precision + res.Recall)
	}
	if len(labels) > 0 {
		res.Accuracy = float64(tp+tn) / float64(len(labels))
	}
	return res, nil
}

// CardInfo is the input for the model card renderer.
type CardInfo struct {
	Name          string
	Version       string
	Labels        []string
	Metrics       Metrics
	DatasetSize   int
	TrainedAt     string
	PositiveLabel string
	TopTokens     map[string][]rectifier.TokenScore
}

var cardTmpl = template.Must(template.New("card").Funcs(template.FuncMap{
	"join": strings.Join,
	"f3":   func(v float64) string { return fmt.Sprintf("%.3f", v) },
	"f4":   func(v float64) string { return fmt.Sprintf("%.4f", v) },
	"tokens": func(info CardInfo, label string) []rectifier.TokenScore {
		return info.TopTokens[label]
	},
}).Parse(`# Model Card: {{.Info.Name}}

**Version**: {{.Info.Version}}
**Trained At**: {{.Info.TrainedAt}}
**Report Generated**: {{.Generated}}

## Overview
- **Labels**: {{join .Info.Labels ", "}}
- **Positive Label**: {{.Info.PositiveLabel}}
- **Dataset Size**: {{.Info.DatasetSize}}

## Metrics
- **Precision**: {{f3 .Info.Metrics.Precision}}
- **Recall**: {{f3 .Info.Metrics.Recall}}
- **F1 Score**: {{f3 .Info.Metrics.F1}}
- **Accuracy**: {{f3 .Info.Metrics.Accuracy}}

## Feature Highlights
{{- $info := .Info}}
{{- range $label := .Info.Labels}}

### Top tokens for ` + "`{{$label}}`" + `
{{- range tokens $info $label}}
- ` + "`{{.Token}}`" + ` ({{f4 .Score}})
{{- end}}
{{- end}}

## Intended Use
- High-volume SMS/email filtering.
- Human-in-the-loop moderation workflows.

## Limitations
- Uses token frequency only; sarcasm and context can be missed.
- Drift monitoring is recommended for new domains.
`))

// ModelCard renders a markdown model card. Labels are listed in sorted order.
func ModelCard(info CardInfo) (string, error) {
	labels := make([]string, len(info.Labels))
	copy(labels, info.Labels)
	sort.Strings(labels)
	info.Labels = labels

	data := struct {
		Info      CardInfo
		Generated string
	}{Info: info, Generated: time.Now().UTC().Format("2006-01-02")}

	var sb strings.Builder
	if err := cardTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render model card: %w", err)
	}
	return sb.String(), nil
}
