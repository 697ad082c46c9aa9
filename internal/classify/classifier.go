// Package classify scores subjects (domains, URLs, captured request
// text) for gambling likelihood with a naive Bayes model over TF-IDF
// vectors. Scoring is lock-free against an immutable model snapshot;
// retraining swaps the snapshot atomically.
package classify

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/netguard/netguard-go/internal/feature"
	"github.com/netguard/netguard-go/internal/lexicon"
)

// ErrInsufficientData is returned when training lacks at least one
// example of each class.
var ErrInsufficientData = errors.New("classify: need at least one gambling and one benign example")

// ErrNoModel is returned when scoring is attempted before any model
// has been trained.
var ErrNoModel = errors.New("classify: no trained model")

// Classifier owns the current model and the operator feedback queue.
type Classifier struct {
	log     *slog.Logger
	lexicon *lexicon.Set

	model   atomic.Pointer[Model]
	version atomic.Int64

	mu       sync.Mutex // guards feedback and trained
	feedback []Example
	trained  int // feedback entries already folded into the model

	group singleflight.Group
}

// New creates a classifier seeded from the lexicon set. No model exists
// until Train is called.
func New(log *slog.Logger, lex *lexicon.Set) *Classifier {
	return &Classifier{log: log, lexicon: lex}
}

// Train builds a model from the lexicon seed examples plus any queued
// feedback and installs it. Safe to call concurrently with scoring.
func (c *Classifier) Train() error {
	c.mu.Lock()
	fb := make([]Example, len(c.feedback))
	copy(fb, c.feedback)
	c.mu.Unlock()

	examples := make([]Example, 0, len(fb)+64)
	for _, seed := range c.lexicon.Seed() {
		label := LabelBenign
		if seed.Gambling {
			label = LabelGambling
		}
		examples = append(examples, Example{Text: seed.Text, Label: label})
	}
	examples = append(examples, fb...)

	version := c.version.Add(1)
	m, err := trainModel(version, examples, c.lexicon.Stopwords())
	if err != nil {
		return fmt.Errorf("training model v%d: %w", version, err)
	}
	c.model.Store(m)

	// Only a successful train consumes the queue; the max guard keeps a
	// slower concurrent train from rolling the watermark back.
	c.mu.Lock()
	if len(fb) > c.trained {
		c.trained = len(fb)
	}
	c.mu.Unlock()

	c.log.Info("model trained",
		"version", version,
		"examples", len(examples),
		"feedback", len(fb),
		"vocabulary", m.vectorizer.Vocabulary())
	return nil
}

// Model returns the current model snapshot, or nil before first training.
func (c *Classifier) Model() *Model {
	return c.model.Load()
}

// QueueFeedback records an operator correction for the next retrain.
func (c *Classifier) QueueFeedback(text string, label Label) {
	c.mu.Lock()
	c.feedback = append(c.feedback, Example{Text: text, Label: label})
	n := len(c.feedback) - c.trained
	c.mu.Unlock()
	c.log.Debug("feedback queued", "label", string(label), "pending", n)
}

// PendingFeedback returns the number of corrections not yet trained in.
func (c *Classifier) PendingFeedback() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.feedback) - c.trained
}

// Score classifies a subject string. The subject is flattened to text,
// vectorized against the current model's vocabulary and scored. Repeated
// calls with the same subject against the same model return the same
// Result.
func (c *Classifier) Score(subject string) (Result, error) {
	m := c.model.Load()
	if m == nil {
		return Result{}, ErrNoModel
	}
	v := m.vectorizer.Vectorize(feature.SubjectText(subject))
	return Result{
		Subject:      subject,
		Score:        m.Score(v),
		TopTerms:     m.Explain(v, 5),
		ModelVersion: m.version,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// ScoreShared coalesces concurrent scores of the same subject: while one
// goroutine computes, others scoring the same subject wait and share the
// result. Used on the sampler hot path where a burst of connections to
// one domain arrives together.
func (c *Classifier) ScoreShared(subject string) (Result, error) {
	out, err, _ := c.group.Do(subject, func() (any, error) {
		return c.Score(subject)
	})
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

// ScoreText classifies already-extracted text (captured request bodies,
// page titles) without the URL flattening step.
func (c *Classifier) ScoreText(subject, text string) (Result, error) {
	m := c.model.Load()
	if m == nil {
		return Result{}, ErrNoModel
	}
	v := m.vectorizer.Vectorize(feature.SubjectText(subject), text)
	return Result{
		Subject:      subject,
		Score:        m.Score(v),
		TopTerms:     m.Explain(v, 5),
		ModelVersion: m.version,
		Timestamp:    time.Now().UTC(),
	}, nil
}
