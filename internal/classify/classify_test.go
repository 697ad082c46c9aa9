package classify

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netguard/netguard-go/internal/lexicon"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func twoClassModel(t *testing.T) *Model {
	t.Helper()
	m, err := trainModel(1, []Example{
		{Text: "bonus slot judi online", Label: LabelGambling},
		{Text: "library book catalog", Label: LabelBenign},
	}, nil)
	require.NoError(t, err)
	return m
}

func TestTrainRequiresBothClasses(t *testing.T) {
	_, err := trainModel(1, []Example{
		{Text: "casino jackpot", Label: LabelGambling},
		{Text: "poker betting", Label: LabelGambling},
	}, nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = trainModel(1, nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestScoreGamblingText(t *testing.T) {
	m := twoClassModel(t)
	v := m.Vectorizer().Vectorize("free bonus slot spin")
	score := m.Score(v)
	assert.Greater(t, score, 0.65, "overlapping gambling terms must dominate")
	assert.Less(t, score, 1.0)

	benign := m.Score(m.Vectorizer().Vectorize("library book hours"))
	assert.Less(t, benign, 0.5)
}

func TestScoreDeterministic(t *testing.T) {
	m := twoClassModel(t)
	v := m.Vectorizer().Vectorize("bonus slot deposit")
	first := m.Score(v)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.Score(m.Vectorizer().Vectorize("bonus slot deposit")))
	}
}

func TestScoreMonotonicInEvidence(t *testing.T) {
	m := twoClassModel(t)
	weak := m.Score(m.Vectorizer().Vectorize("bonus"))
	strong := m.Score(m.Vectorizer().Vectorize("bonus slot judi"))
	assert.Greater(t, strong, weak, "more gambling terms must not lower the score")
}

func TestScoreBounded(t *testing.T) {
	m := twoClassModel(t)
	for _, text := range []string{"", "zzz qqq xyzzy", "bonus slot judi online bonus slot judi online"} {
		s := m.Score(m.Vectorizer().Vectorize(text))
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestExplainOrdersByMagnitude(t *testing.T) {
	m := twoClassModel(t)
	v := m.Vectorizer().Vectorize("bonus library unrelated")
	terms := m.Explain(v, 0)
	require.NotEmpty(t, terms)
	for i := 1; i < len(terms); i++ {
		assert.GreaterOrEqual(t,
			abs(terms[i-1].Contribution), abs(terms[i].Contribution))
	}

	top := m.Explain(v, 2)
	assert.Len(t, top, 2)
	assert.Equal(t, terms[0], top[0])
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func TestClassifierTrainAndScore(t *testing.T) {
	lex, err := lexicon.Load("")
	require.NoError(t, err)

	c := New(discard(), lex)
	_, err = c.Score("example.com")
	assert.ErrorIs(t, err, ErrNoModel)

	require.NoError(t, c.Train())
	require.NotNil(t, c.Model())
	assert.Equal(t, int64(1), c.Model().Version())

	res, err := c.Score("http://slot-gacor-maxwin.example.com/daftar?bonus=1")
	require.NoError(t, err)
	assert.Greater(t, res.Score, 0.5)
	assert.Equal(t, int64(1), res.ModelVersion)
	assert.NotEmpty(t, res.TopTerms)

	res, err = c.Score("https://university-library.example.org/catalog")
	require.NoError(t, err)
	assert.Less(t, res.Score, 0.5)
}

func TestClassifierVersionIncrements(t *testing.T) {
	lex, err := lexicon.Load("")
	require.NoError(t, err)

	c := New(discard(), lex)
	require.NoError(t, c.Train())
	require.NoError(t, c.Train())
	assert.Equal(t, int64(2), c.Model().Version())
}

func TestFeedbackInfluencesRetrain(t *testing.T) {
	lex, err := lexicon.Load("")
	require.NoError(t, err)

	c := New(discard(), lex)
	require.NoError(t, c.Train())
	before, err := c.Score("freshbet-arena.example.com")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.QueueFeedback("freshbet arena parlay odds", LabelGambling)
	}
	assert.Equal(t, 5, c.PendingFeedback())

	require.NoError(t, c.Train())
	after, err := c.Score("freshbet-arena.example.com")
	require.NoError(t, err)
	assert.Greater(t, after.Score, before.Score, "feedback must pull the score toward its label")
}

func TestTrainConsumesQueuedFeedback(t *testing.T) {
	lex, err := lexicon.Load("")
	require.NoError(t, err)

	c := New(discard(), lex)
	c.QueueFeedback("parlay odds cashout", LabelGambling)
	c.QueueFeedback("municipal recycling schedule", LabelBenign)
	assert.Equal(t, 2, c.PendingFeedback())

	require.NoError(t, c.Train())
	assert.Equal(t, 0, c.PendingFeedback(), "a successful train must drain the queue")

	require.NoError(t, c.Train())
	assert.Equal(t, 0, c.PendingFeedback())

	c.QueueFeedback("live dealer roulette", LabelGambling)
	assert.Equal(t, 1, c.PendingFeedback(), "only corrections after the last train count")
	require.NoError(t, c.Train())
	assert.Equal(t, 0, c.PendingFeedback())
}

func TestScoreSharedMatchesScore(t *testing.T) {
	lex, err := lexicon.Load("")
	require.NoError(t, err)

	c := New(discard(), lex)
	require.NoError(t, c.Train())

	direct, err := c.Score("judi-online.example.id")
	require.NoError(t, err)
	shared, err := c.ScoreShared("judi-online.example.id")
	require.NoError(t, err)
	assert.Equal(t, direct.Score, shared.Score)
}
