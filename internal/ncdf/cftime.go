package ncdf

import (
	"strings"
	"time"
)

// cfClock converts numeric CF-convention time values ("<unit> since <epoch>")
// into UTC timestamps. Argo files store time as JULD, "days since 1950-01-01
// 00:00:00 UTC".
type cfClock struct {
	epoch time.Time
	step  time.Duration
}

var cfSteps = map[string]time.Duration{
	"day":          24 * time.Hour,
	"days":         24 * time.Hour,
	"hour":         time.Hour,
	"hours":        time.Hour,
	"minute":       time.Minute,
	"minutes":      time.Minute,
	"second":       time.Second,
	"seconds":      time.Second,
	"millisecond":  time.Millisecond,
	"milliseconds": time.Millisecond,
}

var epochLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseCFClock interprets a CF "units" attribute. ok is false when the string
// is not a time unit (e.g. "decibar" or "psu").
func parseCFClock(units string) (cfClock, bool) {
	fields := strings.Fields(units)
	if len(fields) < 3 || !strings.EqualFold(fields[1], "since") {
		return cfClock{}, false
	}
	step, ok := cfSteps[strings.ToLower(fields[0])]
	if !ok {
		return cfClock{}, false
	}
	rest := strings.Join(fields[2:], " ")
	for _, layout := range epochLayouts {
		if epoch, err := time.Parse(layout, rest); err == nil {
			return cfClock{epoch: epoch.UTC(), step: step}, true
		}
	}
	return cfClock{}, false
}

// at maps a numeric offset (fractional values allowed) onto the epoch.
func (c cfClock) at(v float64) time.Time {
	return c.epoch.Add(time.Duration(v * float64(c.step))).UTC()
}
