package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var intervalToken = regexp.MustCompile(`^(\d+)([dhms])`)

// ParseInterval parses a human-readable interval expression such as "1d",
// "90m" or "1d12h30m" into a duration. Units are days, hours, minutes and
// seconds; tokens accumulate in any order.
func ParseInterval(expr string) (time.Duration, error) {
	rest := strings.ToLower(strings.TrimSpace(expr))
	if rest == "" {
		return 0, fmt.Errorf("empty interval expression")
	}

	var total time.Duration
	for rest != "" {
		m := intervalToken.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("invalid interval expression %q", expr)
		}
		value, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("invalid interval expression %q: %w", expr, err)
		}
		switch m[2] {
		case "d":
			total += time.Duration(value) * 24 * time.Hour
		case "h":
			total += time.Duration(value) * time.Hour
		case "m":
			total += time.Duration(value) * time.Minute
		case "s":
			total += time.Duration(value) * time.Second
		}
		rest = rest[len(m[0]):]
	}
	if total == 0 {
		return 0, fmt.Errorf("interval expression %q is zero", expr)
	}
	return total, nil
}
