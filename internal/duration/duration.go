package duration

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidFormat    = errors.New("invalid duration format")
	ErrNonPositiveValue = errors.New("duration must be a positive number")
	ErrUnknownUnit      = errors.New("unknown duration unit")
	ErrOutOfRange       = errors.New("duration out of range")
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

// unitOrder is also the order listed in unknown-unit errors.
var unitOrder = []string{"ms", "s", "m", "h", "d", "w", "mo", "y"}

var units = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  Day,
	"w":  Week,
	"mo": Month,
	"y":  Year,
}

// formatUnits is ordered largest first.
var formatUnits = []struct {
	name string
	size time.Duration
}{
	{"y", Year},
	{"mo", Month},
	{"w", Week},
	{"d", Day},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

var pattern = regexp.MustCompile(`^([+-]?[0-9]+(?:\.[0-9]+)?)([a-zA-Z]+)?$`)

// Parse converts strings like "7d", "24h" or "2w" into a duration.
// A bare number is read as days.
func Parse(input string) (time.Duration, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidFormat)
	}

	match := pattern.FindStringSubmatch(trimmed)
	if match == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, input)
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil || math.IsInf(value, 0) || math.IsNaN(value) || value <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNonPositiveValue, input)
	}

	unit := strings.ToLower(match[2])
	if unit == "" {
		unit = "d"
	}
	size, ok := units[unit]
	if !ok {
		return 0, fmt.Errorf("%w %q, allowed: %s", ErrUnknownUnit, unit, strings.Join(unitOrder, ", "))
	}

	total := value * float64(size)
	if total >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q", ErrOutOfRange, input)
	}
	return time.Duration(total), nil
}

// Format renders d using the largest unit it reaches, rounded to the
// nearest whole number. It is lossy: Format(Parse("36h")) is "2d".
func Format(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	for _, u := range formatUnits {
		if d >= u.size {
			return fmt.Sprintf("%d%s", int64(math.Round(float64(d)/float64(u.size))), u.name)
		}
	}
	return fmt.Sprintf("%dms", int64(math.Round(float64(d)/float64(time.Millisecond))))
}
