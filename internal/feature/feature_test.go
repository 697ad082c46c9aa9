package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"free", "bonus", "slot88"}, Tokenize("Free BONUS slot88!"))
	assert.Equal(t, []string{"judi", "online"}, Tokenize("judi-online"))
	assert.Empty(t, Tokenize("a ! b"), "single characters carry no signal")
	assert.Empty(t, Tokenize(""))
}

func TestDomainTokens(t *testing.T) {
	assert.Equal(t, []string{"bonus", "slot", "example"}, DomainTokens("bonus-slot.example.co.id"))
	assert.Equal(t, []string{"www", "example"}, DomainTokens("www.example.com"))
	assert.Empty(t, DomainTokens(""))
	assert.Empty(t, DomainTokens("."))
}

func TestSubjectTextFromURL(t *testing.T) {
	text := SubjectText("https://slot-gacor.example.com/daftar?bonus=100")
	assert.Contains(t, text, "slot")
	assert.Contains(t, text, "gacor")
	assert.Contains(t, text, "daftar")
	assert.Contains(t, text, "bonus")
}

func TestSubjectTextFromBareDomain(t *testing.T) {
	text := SubjectText("judi-online.example.id")
	assert.Contains(t, text, "judi")
	assert.Contains(t, text, "online")
}

func TestVectorizeWeightsRepeats(t *testing.T) {
	vz := NewVectorizer(nil)
	vz.Fit([][]string{{"bonus", "slot"}, {"library", "book"}})

	v := vz.Vectorize("bonus bonus slot")
	require.Contains(t, v, "bonus")
	require.Contains(t, v, "slot")
	assert.Greater(t, v["bonus"], v["slot"], "term frequency must scale the weight")
}

func TestVectorizeUnseenTermsKeepWeight(t *testing.T) {
	vz := NewVectorizer(nil)
	vz.Fit([][]string{{"bonus"}})

	v := vz.Vectorize("zzzqqq")
	require.Contains(t, v, "zzzqqq")
	assert.Equal(t, unseenIDF, v["zzzqqq"])
}

func TestVectorizeDropsStopwords(t *testing.T) {
	stop := map[string]struct{}{"the": {}, "www": {}}
	vz := NewVectorizer(stop)
	vz.Fit([][]string{{"bonus"}})

	v := vz.Vectorize("the www bonus")
	assert.NotContains(t, v, "the")
	assert.NotContains(t, v, "www")
	assert.Contains(t, v, "bonus")
}

func TestIDFRarerTermsWeighHeavier(t *testing.T) {
	vz := NewVectorizer(nil)
	vz.Fit([][]string{
		{"common", "rare"},
		{"common"},
		{"common"},
	})
	assert.Greater(t, vz.IDF("rare"), vz.IDF("common"))
	assert.Equal(t, 2, vz.Vocabulary())
}

func TestFilterMatchesVectorizeTokens(t *testing.T) {
	stop := map[string]struct{}{"dan": {}}
	vz := NewVectorizer(stop)
	tokens := vz.Filter("slot dan bonus")
	assert.Equal(t, []string{"slot", "bonus"}, tokens)
}
