package keywords

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// Lexicon is the vocabulary the extractor and the specialty heuristic work with.
type Lexicon struct {
	Terms       []string    `yaml:"terms"`
	Specialties []Specialty `yaml:"specialties"`
}

// Specialty is a narrow role recognized from a candidate title.
type Specialty struct {
	Name        string   `yaml:"name"`
	Identifiers []string `yaml:"identifiers"`
	Phrases     []string `yaml:"phrases"`
}

// DefaultLexicon returns the built-in lexicon.
func DefaultLexicon() (*Lexicon, error) {
	return Parse(defaultLexicon)
}

// LoadLexicon reads a lexicon from a YAML file. An empty path returns the default one.
func LoadLexicon(path string) (*Lexicon, error) {
	if path == "" {
		return DefaultLexicon()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon file %q: %w", path, err)
	}

	lex, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("lexicon file %q: %w", path, err)
	}
	return lex, nil
}

func Parse(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parsing lexicon: %w", err)
	}
	if len(lex.Terms) == 0 {
		return nil, fmt.Errorf("lexicon has no terms")
	}
	for i, s := range lex.Specialties {
		if s.Name == "" {
			return nil, fmt.Errorf("specialty #%d has no name", i)
		}
		if len(s.Identifiers) == 0 || len(s.Phrases) == 0 {
			return nil, fmt.Errorf("specialty %q needs identifiers and phrases", s.Name)
		}
	}
	return &lex, nil
}
