package classify

import (
	"math"
	"sort"

	"github.com/netguard/netguard-go/internal/feature"
)

// logUnseen is the log-likelihood assigned to a term a class never saw
// beyond what Laplace smoothing covers (term absent from the whole
// vocabulary). Matches the floor used during training so scoring stays
// bounded.
const logUnseen = -15.0

// Model is one trained naive Bayes model. Immutable after training;
// retraining builds a new Model and swaps the pointer, so concurrent
// scorers never observe a half-updated state.
type Model struct {
	version    int64
	vectorizer *feature.Vectorizer

	logPriorGambling float64
	logPriorBenign   float64
	gambling         map[string]float64 // log P(term | gambling)
	benign           map[string]float64 // log P(term | benign)
}

// Version returns the monotonically increasing model version.
func (m *Model) Version() int64 { return m.version }

// Vectorizer returns the vectorizer fitted alongside this model.
func (m *Model) Vectorizer() *feature.Vectorizer { return m.vectorizer }

// Score computes the gambling likelihood for a feature vector: weighted
// log-likelihood ratio under the independence assumption, squashed to
// (0,1) with a logistic transform. Deterministic for a fixed model.
func (m *Model) Score(v feature.Vector) float64 {
	logOdds := m.logPriorGambling - m.logPriorBenign
	for term, weight := range v {
		logOdds += weight * m.termDelta(term)
	}
	return 1.0 / (1.0 + math.Exp(-logOdds))
}

// termDelta is the per-term log-likelihood difference between classes.
func (m *Model) termDelta(term string) float64 {
	pg, ok := m.gambling[term]
	if !ok {
		pg = logUnseen
	}
	pb, ok := m.benign[term]
	if !ok {
		pb = logUnseen
	}
	return pg - pb
}

// Explain returns the top-n contributing terms of a vector ordered by
// absolute contribution, largest first. Positive contributions push
// toward gambling, negative toward benign.
func (m *Model) Explain(v feature.Vector, n int) []TermContribution {
	out := make([]TermContribution, 0, len(v))
	for term, weight := range v {
		out = append(out, TermContribution{
			Term:         term,
			Contribution: weight * m.termDelta(term),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Contribution), math.Abs(out[j].Contribution)
		if ai != aj {
			return ai > aj
		}
		return out[i].Term < out[j].Term // stable order for equal weights
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Info describes a model for the dashboard.
type Info struct {
	Version       int64 `json:"version"`
	Vocabulary    int   `json:"vocabulary"`
	GamblingTerms int   `json:"gambling_terms"`
	BenignTerms   int   `json:"benign_terms"`
}

// Info returns summary statistics about the model.
func (m *Model) Info() Info {
	return Info{
		Version:       m.version,
		Vocabulary:    m.vectorizer.Vocabulary(),
		GamblingTerms: len(m.gambling),
		BenignTerms:   len(m.benign),
	}
}

// trainModel builds a Model from labeled examples with add-one (Laplace)
// smoothing. The caller assigns the version.
func trainModel(version int64, examples []Example, stopwords map[string]struct{}) (*Model, error) {
	vz := feature.NewVectorizer(stopwords)

	var docs [][]string
	gamblingCounts := make(map[string]int)
	benignCounts := make(map[string]int)
	totalGambling, totalBenign := 0, 0
	nGambling, nBenign := 0, 0

	for _, ex := range examples {
		tokens := vz.Filter(ex.Text)
		docs = append(docs, tokens)
		switch ex.Label {
		case LabelGambling:
			nGambling++
			for _, t := range tokens {
				gamblingCounts[t]++
				totalGambling++
			}
		default:
			nBenign++
			for _, t := range tokens {
				benignCounts[t]++
				totalBenign++
			}
		}
	}

	if nGambling == 0 || nBenign == 0 {
		return nil, ErrInsufficientData
	}

	vz.Fit(docs)

	vocab := make(map[string]struct{}, len(gamblingCounts)+len(benignCounts))
	for t := range gamblingCounts {
		vocab[t] = struct{}{}
	}
	for t := range benignCounts {
		vocab[t] = struct{}{}
	}
	vocabSize := float64(len(vocab))

	m := &Model{
		version:          version,
		vectorizer:       vz,
		logPriorGambling: math.Log(float64(nGambling) / float64(nGambling+nBenign)),
		logPriorBenign:   math.Log(float64(nBenign) / float64(nGambling+nBenign)),
		gambling:         make(map[string]float64, len(vocab)),
		benign:           make(map[string]float64, len(vocab)),
	}
	for t := range vocab {
		m.gambling[t] = math.Log(float64(gamblingCounts[t]+1) / (float64(totalGambling) + vocabSize))
		m.benign[t] = math.Log(float64(benignCounts[t]+1) / (float64(totalBenign) + vocabSize))
	}
	return m, nil
}
