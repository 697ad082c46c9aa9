package classify

import "time"

// Label is a training class.
type Label string

const (
	LabelGambling Label = "gambling"
	LabelBenign   Label = "benign"
)

// Example is one labeled training document.
type Example struct {
	Text  string
	Label Label
}

// TermContribution is one term's share of a score, for operator feedback.
type TermContribution struct {
	Term         string  `json:"term"`
	Contribution float64 `json:"contribution"`
}

// Result is an immutable classification outcome for one subject.
type Result struct {
	Subject      string             `json:"subject"`
	Score        float64            `json:"score"`
	TopTerms     []TermContribution `json:"top_terms,omitempty"`
	ModelVersion int64              `json:"model_version"`
	Timestamp    time.Time          `json:"timestamp"`
}
