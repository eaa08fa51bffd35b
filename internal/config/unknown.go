package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string][]string{
	"appliance": {"base_url", "username", "password", "file_db_id", "insecure_skip_verify"},
	"retry":     {"max_retries", "retry_delay"},
	"batch":     {"continue_on_error"},
	"history":   {"size"},
	"transport": {"treat_opaque_redirect_as_success", "request_timeout", "user_agent", "max_upload_size"},
	"logging":   {"log_level", "log_format"},
	"metrics":   {"textfile"},
}

// knownSections is sorted for deterministic suggestions when two candidates
// have the same edit distance.
var knownSections = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		sections = append(sections, s)
	}

	slices.Sort(sections)

	return sections
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An unknown
// section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	reported := make(map[string]bool)

	for _, key := range undecoded {
		section, field, _ := strings.Cut(key.String(), ".")

		if _, ok := knownKeys[section]; !ok {
			if reported[section] {
				continue
			}

			reported[section] = true
			errs = append(errs, unknownKeyError("section", section, "", knownSections))

			continue
		}

		errs = append(errs, unknownKeyError("key", field, section, sortedKeys(section)))
	}

	return errors.Join(errs...)
}

func sortedKeys(section string) []string {
	keys := slices.Clone(knownKeys[section])
	slices.Sort(keys)

	return keys
}

// unknownKeyError builds the error for one unknown name, suggesting the
// closest known one when it is close enough.
func unknownKeyError(what, name, section string, candidates []string) error {
	where := ""
	if section != "" {
		where = fmt.Sprintf(" in [%s]", section)
	}

	if suggestion := closestMatch(name, candidates); suggestion != "" {
		return fmt.Errorf("unknown config %s %q%s (did you mean %q?)", what, name, where, suggestion)
	}

	return fmt.Errorf("unknown config %s %q%s", what, name, where)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
