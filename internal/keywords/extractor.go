package keywords

import (
	"sort"
	"strings"
	"unicode"
)

// Extractor matches lexicon terms in free text.
type Extractor struct {
	lexicon *Lexicon
	terms   []term
}

type term struct {
	canonical string
	padded    string
}

func NewExtractor(lex *Lexicon) *Extractor {
	e := &Extractor{lexicon: lex}
	seen := make(map[string]struct{}, len(lex.Terms))
	for _, t := range lex.Terms {
		canonical := strings.ToLower(strings.TrimSpace(t))
		padded := Pad(t)
		if canonical == "" || padded == "  " {
			continue
		}
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		e.terms = append(e.terms, term{canonical: canonical, padded: padded})
	}
	return e
}

func (e *Extractor) Lexicon() *Lexicon { return e.lexicon }

// Extract returns the sorted set of lexicon terms found in text.
func (e *Extractor) Extract(text string) []string {
	padded := Pad(text)
	if padded == "  " {
		return nil
	}

	var found []string
	for _, t := range e.terms {
		if strings.Contains(padded, t.padded) {
			found = append(found, t.canonical)
		}
	}
	sort.Strings(found)
	return found
}

// Specialty returns the first specialty whose identifier appears in title.
func (e *Extractor) Specialty(title string) *Specialty {
	padded := Pad(title)
	for i := range e.lexicon.Specialties {
		s := &e.lexicon.Specialties[i]
		for _, id := range s.Identifiers {
			if ContainsPhrase(padded, id) {
				return s
			}
		}
	}
	return nil
}

// Tokens splits text into lowercase words. Letters, digits and the characters + # & are kept.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' || r == '&')
	})
}

// Pad normalizes text into space separated tokens with a leading and trailing space,
// so that whole phrases can be found with strings.Contains.
func Pad(text string) string {
	return " " + strings.Join(Tokens(text), " ") + " "
}

// ContainsPhrase reports whether phrase occurs as whole words in padded text.
func ContainsPhrase(padded, phrase string) bool {
	p := Pad(phrase)
	if p == "  " {
		return false
	}
	return strings.Contains(padded, p)
}
