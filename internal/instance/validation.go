package instance

import (
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches "<adapter>.<number>", e.g. "sonos.0". Adapter names
// are lowercase, so a mixed-case id such as "sonosA.0" fails discovery.
const idPattern = `^[a-z][a-z0-9\-_]*\.[0-9]{1,2}$`

var (
	idRegex         = regexp.MustCompile(idPattern)
	exclusionStrip  = regexp.MustCompile(`[^0-9a-z\-._,]`)
	exclusionCommas = regexp.MustCompile(`,{2,}`)
)

// minScheduleChars is the shortest schedule expression that is armed.
const minScheduleChars = 2

// ValidateID checks id against the instance id pattern.
func ValidateID(id string) error {
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// NormalizeExclusions parses the operator exclusion list.
//
// The input is lowercased, ";" is treated as ",", characters outside
// [0-9a-z-._,] are removed and runs of commas collapse. Empty tokens are
// skipped.
//
// Returns:
//   - valid: tokens that are instance ids
//   - invalid: remaining tokens, to be reported and dropped
func NormalizeExclusions(raw string) (valid, invalid []string) {
	s := strings.ToLower(raw)
	s = strings.ReplaceAll(s, ";", ",")
	s = exclusionStrip.ReplaceAllString(s, "")
	s = exclusionCommas.ReplaceAllString(s, ",")

	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if ValidateID(tok) != nil {
			invalid = append(invalid, tok)
			continue
		}
		valid = append(valid, tok)
	}
	return valid, invalid
}

// ValidSchedule reports whether expr is long enough to be armed.
func ValidSchedule(expr string) bool {
	return len(strings.TrimSpace(expr)) >= minScheduleChars
}
