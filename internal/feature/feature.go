// Package feature turns raw text (URLs, domains, header values, body
// excerpts) into sparse weighted term vectors for the classifier.
package feature

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Vector maps a term to its weight. Keys are unique; a Vector is derived,
// stateless and discarded after scoring.
type Vector map[string]float64

// Terms returns the vector's terms in unspecified order.
func (v Vector) Terms() []string {
	out := make([]string, 0, len(v))
	for t := range v {
		out = append(out, t)
	}
	return out
}

// Tokenize splits text on non-alphanumeric boundaries and lowercases.
// Single-character fragments are dropped; they carry no signal and bloat
// the vocabulary.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() >= 2 {
			tokens = append(tokens, b.String())
		}
		b.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// DomainTokens splits a domain into its labels with the public suffix
// stripped, so "bonus-slot.example.co.id" yields the labels carrying
// signal rather than "co" and "id".
func DomainTokens(domain string) []string {
	d := strings.ToLower(strings.Trim(domain, "."))
	if d == "" {
		return nil
	}
	if suffix, _ := publicsuffix.PublicSuffix(d); suffix != "" && len(d) > len(suffix) {
		d = strings.TrimSuffix(d[:len(d)-len(suffix)], ".")
	}
	var tokens []string
	for _, label := range strings.Split(d, ".") {
		tokens = append(tokens, Tokenize(label)...)
	}
	return tokens
}

// SubjectText flattens a URL or bare domain into analyzable text:
// domain labels, path and query, the way the interceptor and sampler
// both feed the extractor.
func SubjectText(raw string) string {
	var parts []string
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host := u.Hostname()
		parts = append(parts, strings.Join(DomainTokens(host), " "))
		parts = append(parts, u.Path, u.RawQuery)
	} else {
		parts = append(parts, strings.Join(DomainTokens(raw), " "), raw)
	}
	return strings.Join(parts, " ")
}
