// Package decision maps classifier scores and operator overrides to
// enforcement verdicts under the configured sensitivity.
package decision

import (
	"log/slog"
	"sync/atomic"
)

// Verdict is the enforcement outcome for one subject.
type Verdict string

const (
	VerdictBlock   Verdict = "block"
	VerdictAllow   Verdict = "allow"
	VerdictObserve Verdict = "observe"
)

// Reason names which rule produced a verdict.
type Reason string

const (
	ReasonClassifier  Reason = "classifier"
	ReasonManualAllow Reason = "manual-allow"
	ReasonManualBlock Reason = "manual-block"
)

// Override is an operator-pinned disposition for a domain. Overrides
// always win over the classifier.
type Override int

const (
	OverrideNone Override = iota
	OverrideAllow
	OverrideBlock
)

// Decision is the full outcome for one subject, carried into the audit
// trail.
type Decision struct {
	Domain    string  `json:"domain"`
	Verdict   Verdict `json:"verdict"`
	Reason    Reason  `json:"reason"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	// Conflict marks a manual allow that suppressed a score at or above
	// the block threshold. The allow stands; the disagreement is logged.
	Conflict bool `json:"conflict,omitempty"`
}

const (
	// observeBand is how far below the block threshold a score still
	// produces an observe verdict instead of a plain allow.
	observeBand = 0.10

	thresholdMax   = 0.95
	thresholdSlope = 0.006

	// DefaultSensitivity is the midpoint used until the stored setting
	// is loaded.
	DefaultSensitivity = 50
)

// Engine holds the sensitivity knob and renders verdicts. Safe for
// concurrent use.
type Engine struct {
	log         *slog.Logger
	sensitivity atomic.Int64
}

// New creates an engine at the given sensitivity. Values outside 0..100
// are clamped.
func New(log *slog.Logger, sensitivity int) *Engine {
	e := &Engine{log: log}
	e.SetSensitivity(sensitivity)
	return e
}

// SetSensitivity updates the sensitivity, clamping to 0..100. Takes
// effect on the next Decide call.
func (e *Engine) SetSensitivity(s int) {
	if s < 0 {
		s = 0
	}
	if s > 100 {
		s = 100
	}
	e.sensitivity.Store(int64(s))
}

// Sensitivity returns the current sensitivity.
func (e *Engine) Sensitivity() int {
	return int(e.sensitivity.Load())
}

// Threshold returns the block threshold for the current sensitivity:
// a line from 0.95 at sensitivity 0 down to 0.35 at 100. Higher
// sensitivity blocks on weaker evidence.
func (e *Engine) Threshold() float64 {
	return thresholdMax - thresholdSlope*float64(e.sensitivity.Load())
}

// Decide renders the verdict for one subject. Overrides short-circuit
// the classifier; otherwise the score is compared against the current
// threshold, with a narrow observe band just below it.
func (e *Engine) Decide(domain string, score float64, ov Override) Decision {
	threshold := e.Threshold()
	d := Decision{
		Domain:    domain,
		Score:     score,
		Threshold: threshold,
	}

	switch ov {
	case OverrideBlock:
		d.Verdict = VerdictBlock
		d.Reason = ReasonManualBlock
		return d
	case OverrideAllow:
		d.Verdict = VerdictAllow
		d.Reason = ReasonManualAllow
		if score >= threshold {
			d.Conflict = true
			e.log.Warn("manual allow overrides classifier block",
				"domain", domain, "score", score, "threshold", threshold)
		}
		return d
	}

	switch {
	case score >= threshold:
		d.Verdict = VerdictBlock
	case score >= threshold-observeBand:
		d.Verdict = VerdictObserve
	default:
		d.Verdict = VerdictAllow
	}
	d.Reason = ReasonClassifier
	return d
}
