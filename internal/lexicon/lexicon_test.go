package lexicon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"english", "indonesian"}, s.Languages())

	seed := s.Seed()
	require.NotEmpty(t, seed)
	var gambling, benign int
	for _, ex := range seed {
		if ex.Gambling {
			gambling++
		} else {
			benign++
		}
	}
	assert.Positive(t, gambling)
	assert.Positive(t, benign)
	assert.NotEmpty(t, s.Stopwords())
}

func TestLoadMissingDirFallsBackToDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, []string{"english", "indonesian"}, s.Languages())
}

func TestLoadMergesDirTables(t *testing.T) {
	dir := t.TempDir()
	extra := `language: english
gambling:
  - zzz gambling phrase
benign:
  - zzz benign phrase
`
	newLang := `language: tagalog
gambling:
  - sugal online
benign:
  - aklatan
stopwords:
  - ang
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte(extra), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tagalog.yml"), []byte(newLang), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"english", "indonesian", "tagalog"}, s.Languages())

	var sawExtra, sawTagalog bool
	for _, ex := range s.Seed() {
		switch ex.Text {
		case "zzz gambling phrase":
			assert.True(t, ex.Gambling)
			sawExtra = true
		case "sugal online":
			assert.True(t, ex.Gambling)
			sawTagalog = true
		}
	}
	assert.True(t, sawExtra, "dir file must extend the matching language")
	assert.True(t, sawTagalog, "new language tag must add a table")

	_, ok := s.Stopwords()["ang"]
	assert.True(t, ok)
}

func TestLoadRejectsMissingLanguageTag(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("gambling:\n  - slot\n"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestMergeDeduplicatesKeywords(t *testing.T) {
	s := &Set{tables: make(map[string]*Table)}
	require.NoError(t, s.merge([]byte("language: xx\ngambling:\n  - slot\n")))
	require.NoError(t, s.merge([]byte("language: XX\ngambling:\n  - SLOT\n  - bonus\n")))

	assert.Equal(t, []string{"slot", "bonus"}, s.tables["xx"].Gambling)
}
