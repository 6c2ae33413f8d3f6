package data

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// wildcardMatcher matches names case-insensitively against a tango wildcard ("*" matches any sequence).
type wildcardMatcher struct {
	g glob.Glob
}

func newWildcardMatcher(wildcard string) wildcardMatcher {
	if wildcard == "" {
		wildcard = "*"
	}
	// only "*" is special, every other glob meta character is taken literally
	parts := strings.Split(strings.ToLower(wildcard), "*")
	for i, p := range parts {
		parts[i] = glob.QuoteMeta(p)
	}
	return wildcardMatcher{g: glob.MustCompile(strings.Join(parts, "*"))}
}

func (m wildcardMatcher) MatchString(name string) bool {
	return m.g.Match(strings.ToLower(name))
}

// wildcardToLike translates a tango wildcard into a SQL LIKE pattern using "\" as escape character.
func wildcardToLike(wildcard string) string {
	if wildcard == "" {
		wildcard = "*"
	}
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, "*", "%")
	return replacer.Replace(wildcard)
}

// filterDevices returns the sorted names matching the wildcard.
func filterDevices(names []string, wildcard string) []string {
	re := newWildcardMatcher(wildcard)
	result := make([]string, 0, len(names))
	for _, name := range names {
		if re.MatchString(name) {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// segmentList returns the distinct segments at position depth (0 domain, 1 family, 2 member) of all
// device names whose first depth+1 segments match the wildcard. The result is sorted.
func segmentList(names []string, wildcard string, depth int) []string {
	re := newWildcardMatcher(wildcard)
	seen := make(map[string]struct{})
	result := make([]string, 0)

	for _, name := range names {
		segments := strings.SplitN(name, "/", 3)
		if len(segments) <= depth {
			continue
		}
		if !re.MatchString(strings.Join(segments[:depth+1], "/")) {
			continue
		}

		// segment comparison is case-insensitive like the names themselves
		key := strings.ToLower(segments[depth])
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, segments[depth])
	}

	sort.Strings(result)
	return result
}
