package rectifier

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	tokenRe  = regexp.MustCompile(`[a-z0-9]+(?:['-][a-z0-9]+)?`)
	emailRe  = regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)
	urlRe    = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)
	numberRe = regexp.MustCompile(`\b\d{2,}\b`)
)

// FeatureConfig defines how raw text is turned into tokens. The config used for
// training travels with the model, so inference always tokenizes the same way.
type FeatureConfig struct {
	UseBigrams     bool `json:"use_bigrams"`
	MinTokenLength int  `json:"min_token_length"`
	RedactEmails   bool `json:"redact_emails"`
	RedactURLs     bool `json:"redact_urls"`
	RedactNumbers  bool `json:"redact_numbers"`
}

// DefaultFeatureConfig returns the config used unless the caller overrides it:
// bigrams on, tokens of two or more characters, emails and urls redacted.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		UseBigrams:     true,
		MinTokenLength: 2,
		RedactEmails:   true,
		RedactURLs:     true,
		RedactNumbers:  false,
	}
}

// Validate checks config fields, returns ErrInvalidConfig on bad values.
func (c FeatureConfig) Validate() error {
	if c.MinTokenLength < 1 {
		return fmt.Errorf("%w: min_token_length must be >= 1, got %d", ErrInvalidConfig, c.MinTokenLength)
	}
	return nil
}

// redact replaces emails, urls and standalone multi-digit numbers with
// placeholders. Each pass runs on the output of the previous one, the order is
// part of the contract.
func redact(text string, c FeatureConfig) string {
	res := text
	if c.RedactEmails {
		res = emailRe.ReplaceAllString(res, " <email> ")
	}
	if c.RedactURLs {
		res = urlRe.ReplaceAllString(res, " <url> ")
	}
	if c.RedactNumbers {
		res = numberRe.ReplaceAllString(res, " <number> ")
	}
	return res
}

// Normalize returns the redacted, lowercased form of text.
func Normalize(text string, c FeatureConfig) string {
	return strings.ToLower(redact(text, c))
}

// Tokenize splits text into tokens: redact, lowercase, extract letter/digit
// runs with an optional internal apostrophe or hyphen, drop the short ones.
// With bigrams enabled, adjacent-pair joins are appended after the unigrams.
// Duplicates are kept, the result is a multiset.
func Tokenize(text string, c FeatureConfig) []string {
	var tokens []string
	for _, tok := range tokenRe.FindAllString(Normalize(text, c), -1) {
		if len(tok) >= c.MinTokenLength {
			tokens = append(tokens, tok)
		}
	}
	if !c.UseBigrams {
		return tokens
	}
	unigrams := len(tokens)
	for i := 0; i+1 < unigrams; i++ {
		tokens = append(tokens, tokens[i]+"_"+tokens[i+1])
	}
	return tokens
}

// Featurize converts each text to a token->count multiset.
func Featurize(texts []string, c FeatureConfig) []map[string]int {
	res := make([]map[string]int, 0, len(texts))
	for _, text := range texts {
		counts := map[string]int{}
		for _, tok := range Tokenize(text, c) {
			counts[tok]++
		}
		res = append(res, counts)
	}
	return res
}
