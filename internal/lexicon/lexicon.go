// Package lexicon holds the language-tagged keyword tables the classifier
// is seeded from. Tables are data, not code: built-in defaults ship for
// English and Indonesian, and any YAML file dropped into the lexicon
// directory adds or extends a language without a rebuild.
package lexicon

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaults embed.FS

// Table is one language's keyword lists.
type Table struct {
	Language  string   `yaml:"language"`
	Gambling  []string `yaml:"gambling"`
	Benign    []string `yaml:"benign"`
	Stopwords []string `yaml:"stopwords"`
}

// Example is one labeled seed phrase for training.
type Example struct {
	Text     string
	Gambling bool
}

// Set is the merged view over all loaded tables.
type Set struct {
	tables map[string]*Table
}

// Load reads the embedded default tables, then merges any *.yaml / *.yml
// files found in dir on top. A file whose language tag matches an existing
// table extends it; a new tag adds a language. dir may be empty.
func Load(dir string) (*Set, error) {
	s := &Set{tables: make(map[string]*Table)}

	entries, err := fs.ReadDir(defaults, "defaults")
	if err != nil {
		return nil, fmt.Errorf("read embedded lexicons: %w", err)
	}
	for _, e := range entries {
		data, err := defaults.ReadFile("defaults/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded lexicon %s: %w", e.Name(), err)
		}
		if err := s.merge(data); err != nil {
			return nil, fmt.Errorf("parse embedded lexicon %s: %w", e.Name(), err)
		}
	}

	if dir == "" {
		return s, nil
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read lexicon dir: %w", err)
	}
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Name()))
		if f.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, fmt.Errorf("read lexicon %s: %w", f.Name(), err)
		}
		if err := s.merge(data); err != nil {
			return nil, fmt.Errorf("parse lexicon %s: %w", f.Name(), err)
		}
	}
	return s, nil
}

func (s *Set) merge(data []byte) error {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return err
	}
	tag := strings.ToLower(strings.TrimSpace(t.Language))
	if tag == "" {
		return fmt.Errorf("lexicon table missing language tag")
	}
	existing, ok := s.tables[tag]
	if !ok {
		t.Language = tag
		s.tables[tag] = &t
		return nil
	}
	existing.Gambling = appendUnique(existing.Gambling, t.Gambling)
	existing.Benign = appendUnique(existing.Benign, t.Benign)
	existing.Stopwords = appendUnique(existing.Stopwords, t.Stopwords)
	return nil
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

// Languages returns the loaded language tags, sorted.
func (s *Set) Languages() []string {
	out := make([]string, 0, len(s.tables))
	for tag := range s.tables {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Seed returns one labeled example per keyword phrase across all languages.
func (s *Set) Seed() []Example {
	var out []Example
	for _, tag := range s.Languages() {
		t := s.tables[tag]
		for _, kw := range t.Gambling {
			out = append(out, Example{Text: kw, Gambling: true})
		}
		for _, kw := range t.Benign {
			out = append(out, Example{Text: kw, Gambling: false})
		}
	}
	return out
}

// Stopwords returns the union of all languages' stopword sets.
func (s *Set) Stopwords() map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range s.tables {
		for _, w := range t.Stopwords {
			out[strings.ToLower(w)] = struct{}{}
		}
	}
	return out
}
