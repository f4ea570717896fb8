// Package duration parses short leave-duration tokens such as "5D", "2W" or "1M".
package duration

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"staffdesk/internal/models"
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
)

var tokenPattern = regexp.MustCompile(`^([0-9]+)([DWM])$`)

// Interval is a half-open leave window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
	// Amount is the parsed count before unit scaling. Zero is syntactically
	// valid; callers decide whether it is acceptable.
	Amount int
}

// Parse converts token into an interval starting at now. Units are D (days),
// W (weeks) and M (30-day months), case-insensitive, with no whitespace.
// Any other shape fails with models.ErrInvalidFormat.
func Parse(token string, now time.Time) (Interval, error) {
	m := tokenPattern.FindStringSubmatch(strings.ToUpper(token))
	if m == nil {
		return Interval{}, models.NewInvalidFormatError("Invalid duration format. Use 5D / 2W / 1M.")
	}

	amount, err := strconv.Atoi(m[1])
	if err != nil {
		// digits only, so this is overflow
		return Interval{}, models.NewInvalidFormatError("Duration amount is too large")
	}

	unit := Day
	switch m[2] {
	case "W":
		unit = Week
	case "M":
		unit = Month
	}

	if amount > int(maxSpan/unit) {
		return Interval{}, models.NewInvalidFormatError("Duration amount is too large")
	}

	return Interval{
		Start:  now,
		End:    now.Add(time.Duration(amount) * unit),
		Amount: amount,
	}, nil
}

// maxSpan bounds the computed interval so the multiplication cannot overflow.
const maxSpan = time.Duration(1<<63 - 1)
