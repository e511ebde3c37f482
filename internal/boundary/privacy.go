package boundary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Privacy levels run from 1 (patterns only) to 5 (most restrictive).
const (
	MinPrivacyLevel     = 1
	MaxPrivacyLevel     = 5
	DefaultPrivacyLevel = 3
)

// Replacement markers written in place of sensitive content.
const (
	redactedTerm   = "[REDACTED-TERM]"
	redactedNumber = "[REDACTED-NUMBER]"
)

var (
	defaultPatterns = map[string]string{
		"email": `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
		"phone": `\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`,
	}
	defaultTerms = []string{"password", "secret", "private", "confidential"}

	longNumber = regexp.MustCompile(`\b\d{4,}\b`)
)

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// PrivacyFilter scrubs sensitive values from insight content before it
// leaves a node. Patterns (email and phone by default) always apply; terms
// apply from level 3; with Strict set, level 4 and above also masks numbers
// of four or more digits.
//
// Configure a filter before sharing it between goroutines; Filter and
// ContainsSensitive are safe for concurrent use.
type PrivacyFilter struct {
	level    int
	Strict   bool
	patterns []namedPattern // sorted by name
	terms    []string       // lower case, sorted
	termRes  map[string]*regexp.Regexp
}

// NewPrivacyFilter creates a filter with the default patterns and terms.
// level is clamped to [MinPrivacyLevel, MaxPrivacyLevel].
func NewPrivacyFilter(level int) *PrivacyFilter {
	f := &PrivacyFilter{level: clampLevel(level), termRes: make(map[string]*regexp.Regexp)}
	for name, expr := range defaultPatterns {
		f.patterns = append(f.patterns, namedPattern{name: name, re: regexp.MustCompile(expr)})
	}
	sort.Slice(f.patterns, func(a, b int) bool { return f.patterns[a].name < f.patterns[b].name })
	for _, t := range defaultTerms {
		f.AddTerm(t)
	}
	return f
}

func clampLevel(level int) int {
	if level < MinPrivacyLevel {
		return MinPrivacyLevel
	}
	if level > MaxPrivacyLevel {
		return MaxPrivacyLevel
	}
	return level
}

// Level returns the privacy level.
func (f *PrivacyFilter) Level() int { return f.level }

// AddPattern registers a named pattern. Matches are replaced with
// [REDACTED-<NAME>].
func (f *PrivacyFilter) AddPattern(name, expr string) error {
	for _, p := range f.patterns {
		if p.name == name {
			return fmt.Errorf("privacy pattern %q already registered", name)
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid privacy pattern %q: %w", name, err)
	}
	f.patterns = append(f.patterns, namedPattern{name: name, re: re})
	sort.Slice(f.patterns, func(a, b int) bool { return f.patterns[a].name < f.patterns[b].name })
	return nil
}

// AddTerm registers a sensitive term, matched case-insensitively. It
// returns false when the term is empty or already known.
func (f *PrivacyFilter) AddTerm(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	i := sort.SearchStrings(f.terms, term)
	if i < len(f.terms) && f.terms[i] == term {
		return false
	}
	f.terms = append(f.terms, "")
	copy(f.terms[i+1:], f.terms[i:])
	f.terms[i] = term
	f.termRes[term] = regexp.MustCompile("(?i)" + regexp.QuoteMeta(term))
	return true
}

// Filter returns s with sensitive content replaced.
func (f *PrivacyFilter) Filter(s string) string {
	if s == "" {
		return s
	}
	for _, p := range f.patterns {
		s = p.re.ReplaceAllLiteralString(s, "[REDACTED-"+strings.ToUpper(p.name)+"]")
	}
	if f.level >= 3 {
		for _, t := range f.terms {
			s = f.termRes[t].ReplaceAllLiteralString(s, redactedTerm)
		}
	}
	if f.level >= 4 && f.Strict {
		s = longNumber.ReplaceAllLiteralString(s, redactedNumber)
	}
	return s
}

// ContainsSensitive reports whether s matches any pattern or term,
// regardless of level.
func (f *PrivacyFilter) ContainsSensitive(s string) bool {
	for _, p := range f.patterns {
		if p.re.MatchString(s) {
			return true
		}
	}
	lower := strings.ToLower(s)
	for _, t := range f.terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// FilterJSON scrubs a JSON document value by value so the result stays valid
// JSON. Strings are filtered; from level 3 an object member whose key holds a
// sensitive term has its whole value replaced. Content that is not JSON is
// filtered as text and returned as a JSON string. The boolean reports whether
// anything changed.
func (f *PrivacyFilter) FilterJSON(raw json.RawMessage) (json.RawMessage, bool, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		text := f.Filter(string(raw))
		if text == string(raw) {
			return raw, false, nil
		}
		out, err := json.Marshal(text)
		return out, true, err
	}

	filtered, changed := f.filterValue(doc)
	if !changed {
		return raw, false, nil
	}
	out, err := json.Marshal(filtered)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode filtered content: %w", err)
	}
	return out, true, nil
}

func (f *PrivacyFilter) filterValue(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		out := f.Filter(val)
		return out, out != val
	case json.Number:
		if f.level >= 4 && f.Strict && longNumber.MatchString(val.String()) {
			return redactedNumber, true
		}
		return val, false
	case []any:
		changed := false
		for i, item := range val {
			var c bool
			val[i], c = f.filterValue(item)
			changed = changed || c
		}
		return val, changed
	case map[string]any:
		changed := false
		for k, item := range val {
			if f.level >= 3 && f.sensitiveKey(k) {
				val[k] = redactedTerm
				changed = true
				continue
			}
			var c bool
			val[k], c = f.filterValue(item)
			changed = changed || c
		}
		return val, changed
	default:
		return v, false
	}
}

func (f *PrivacyFilter) sensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, t := range f.terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
