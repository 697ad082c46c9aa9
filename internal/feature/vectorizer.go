package feature

import "math"

// unseenIDF is the fixed weight for terms absent from the training corpus.
// Never zero: a novel token still contributes to the score instead of
// silently starving.
const unseenIDF = 1.0

// Vectorizer computes TF-IDF weighted vectors against a vocabulary and
// document frequencies fitted from the training corpus. A fitted
// Vectorizer is immutable; fitting produces a new one.
type Vectorizer struct {
	df        map[string]int
	docs      int
	stopwords map[string]struct{}
}

// NewVectorizer creates an unfitted vectorizer with the given stopword set
// (may be nil).
func NewVectorizer(stopwords map[string]struct{}) *Vectorizer {
	return &Vectorizer{
		df:        make(map[string]int),
		stopwords: stopwords,
	}
}

// Fit computes document frequencies from the tokenized training corpus.
func (vz *Vectorizer) Fit(docs [][]string) {
	vz.df = make(map[string]int)
	vz.docs = len(docs)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, t := range doc {
			if vz.skip(t) {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			vz.df[t]++
		}
	}
}

func (vz *Vectorizer) skip(term string) bool {
	if vz.stopwords == nil {
		return false
	}
	_, ok := vz.stopwords[term]
	return ok
}

// IDF returns the inverse document frequency of a term, or unseenIDF for
// terms never observed during Fit.
func (vz *Vectorizer) IDF(term string) float64 {
	n, ok := vz.df[term]
	if !ok || vz.docs == 0 {
		return unseenIDF
	}
	return math.Log(float64(vz.docs+1)/float64(n+1)) + 1
}

// Filter tokenizes text and drops stopwords. Used at train time so the
// model vocabulary matches what Vectorize produces.
func (vz *Vectorizer) Filter(text string) []string {
	var out []string
	for _, t := range Tokenize(text) {
		if vz.skip(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Vectorize builds a TF×IDF vector over one or more text fields. Pure
// function of the inputs and the fitted vocabulary.
func (vz *Vectorizer) Vectorize(fields ...string) Vector {
	tf := make(map[string]int)
	for _, f := range fields {
		for _, t := range Tokenize(f) {
			if vz.skip(t) {
				continue
			}
			tf[t]++
		}
	}
	v := make(Vector, len(tf))
	for t, n := range tf {
		v[t] = float64(n) * vz.IDF(t)
	}
	return v
}

// Vocabulary returns the number of distinct terms observed during Fit.
func (vz *Vectorizer) Vocabulary() int { return len(vz.df) }
