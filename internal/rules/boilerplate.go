// Package rules holds the suppression rules shared by the detection engine
// and the retroactive cleanup of stored results. Both sides must evaluate
// the same keyword list and the same page-stamp table, so neither keeps a
// private copy.
package rules

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed boilerplate.toml
var defaultBoilerplate []byte

// KeywordGroup is a named slice of the boilerplate list
type KeywordGroup struct {
	Name     string   `toml:"name"`
	Keywords []string `toml:"keywords"`
}

// KeywordSet is an immutable, versioned boilerplate keyword list
type KeywordSet struct {
	version  string
	groups   []KeywordGroup
	keywords []string
}

type keywordFile struct {
	Version string         `toml:"version"`
	Groups  []KeywordGroup `toml:"group"`
}

var defaultSet = mustParse(defaultBoilerplate)

// DefaultKeywords returns the embedded boilerplate list
func DefaultKeywords() *KeywordSet {
	return defaultSet
}

// ParseKeywords parses a boilerplate list in the embedded TOML layout.
// Keywords are lower-cased but not trimmed: "apy " relies on its trailing
// space to avoid matching inside other words.
func ParseKeywords(data []byte) (*KeywordSet, error) {
	var file keywordFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse boilerplate keywords: %w", err)
	}
	if strings.TrimSpace(file.Version) == "" {
		return nil, fmt.Errorf("boilerplate keywords must declare a version")
	}

	set := &KeywordSet{version: file.Version}
	seen := make(map[string]bool)
	for _, group := range file.Groups {
		normalized := KeywordGroup{Name: group.Name}
		for _, kw := range group.Keywords {
			if strings.TrimSpace(kw) == "" {
				return nil, fmt.Errorf("empty keyword in group %q", group.Name)
			}
			kw = strings.ToLower(kw)
			normalized.Keywords = append(normalized.Keywords, kw)
			if !seen[kw] {
				seen[kw] = true
				set.keywords = append(set.keywords, kw)
			}
		}
		set.groups = append(set.groups, normalized)
	}
	if len(set.keywords) == 0 {
		return nil, fmt.Errorf("boilerplate keyword list is empty")
	}
	return set, nil
}

func mustParse(data []byte) *KeywordSet {
	set, err := ParseKeywords(data)
	if err != nil {
		panic(err)
	}
	return set
}

// Version identifies the revision of the list
func (s *KeywordSet) Version() string { return s.version }

// Keywords returns the flattened, deduplicated keyword list
func (s *KeywordSet) Keywords() []string { return append([]string{}, s.keywords...) }

// Groups returns the keyword groups in file order
func (s *KeywordSet) Groups() []KeywordGroup {
	out := make([]KeywordGroup, len(s.groups))
	for i, g := range s.groups {
		out[i] = KeywordGroup{Name: g.Name, Keywords: append([]string{}, g.Keywords...)}
	}
	return out
}

// IsBoilerplate reports whether line contains any keyword, case-insensitively
func (s *KeywordSet) IsBoilerplate(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// FilterBoilerplate returns the lines that are not boilerplate, in order
func (s *KeywordSet) FilterBoilerplate(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if !s.IsBoilerplate(line) {
			out = append(out, line)
		}
	}
	return out
}
