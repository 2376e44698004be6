package extract

import (
	"regexp"
	"strings"
)

var honorificPattern = regexp.MustCompile(
	`^((?:Honorary Associate )?Professor|(?:Associate )?Professor|Emeritus Professor|Adjunct Professor|Dr\.?|Doctor|Mr|Ms|Mrs|Miss|A/Prof|AsPr)\s+(.+)$`,
)

// SplitHonorific separates a leading academic or courtesy title from a name.
// ok is false when the value carries no recognised title.
func SplitHonorific(value string) (title, name string, ok bool) {
	m := honorificPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return "", strings.TrimSpace(value), false
	}
	return m[1], strings.TrimSpace(m[2]), true
}
