package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string][]string{
	"service": {
		"base_url", "client_id", "device_code_path", "token_path", "folder_path",
		"device_grant_type", "user_agent",
	},
	"auth":    {"method", "poll_timeout", "slow_down_factor", "max_poll_interval", "max_concurrent_polls"},
	"network": {"timeout", "max_retries"},
	"storage": {"backend", "token_dir", "db_path", "keyring_service"},
	"logging": {"log_level", "log_file", "log_format", "log_retention_days"},
}

// knownSectionsList is the sorted list of section names. Sorted for
// deterministic suggestions when two candidates have the same edit distance.
var knownSectionsList = func() []string {
	names := make([]string, 0, len(knownKeys))
	for name := range knownKeys {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. A key in
// the wrong section is suggested by its qualified name.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		errs = append(errs, buildKeyError(key))
	}

	return errors.Join(errs...)
}

func buildKeyError(key toml.Key) error {
	keyStr := key.String()

	if len(key) == 1 {
		if section := sectionOf(key[0]); section != "" {
			return fmt.Errorf("unknown config key %q: it belongs in the [%s] section", keyStr, section)
		}

		if suggestion := closestMatch(key[0], knownSectionsList); suggestion != "" {
			return fmt.Errorf("unknown config key %q: did you mean [%s]?", keyStr, suggestion)
		}

		return fmt.Errorf("unknown config key %q", keyStr)
	}

	section, field := key[0], key[len(key)-1]

	known, ok := knownKeys[section]
	if !ok {
		if suggestion := closestMatch(section, knownSectionsList); suggestion != "" {
			return fmt.Errorf("unknown config section [%s]: did you mean [%s]?", section, suggestion)
		}

		return fmt.Errorf("unknown config section [%s]", section)
	}

	if suggestion := closestMatch(field, known); suggestion != "" {
		return fmt.Errorf("unknown config key %q: did you mean %q?", keyStr, section+"."+suggestion)
	}

	return fmt.Errorf("unknown config key %q", keyStr)
}

// sectionOf returns the section a bare key belongs to, if any.
func sectionOf(field string) string {
	for _, section := range knownSectionsList {
		for _, k := range knownKeys[section] {
			if k == field {
				return section
			}
		}
	}

	return ""
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

	// Use single-row optimization to avoid allocating a full matrix.
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

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
