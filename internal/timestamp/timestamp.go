// Package timestamp reconciles the competing time encodings found in plaso
// records into one UTC instant with microsecond precision.
package timestamp

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"
)

// Layout is the canonical output format. The offset is always a literal Z.
const Layout = "2006-01-02T15:04:05.000000Z"

const (
	// seconds between 1601-01-01 and 1970-01-01
	filetimeUnixDelta = 11644473600
	ticksPerSecond    = 10_000_000
	microsPerDay      = 86_400_000_000
)

var (
	oleEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

	// Instants outside [minTime, maxTime) are decoding mistakes, such as
	// posix microseconds read as FILETIME ticks.
	minTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

	isoPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[T ](\d{2}:\d{2}:\d{2})(?:\.(\d+))?([Zz]|[+-]\d{2}:?\d{2})?$`)
)

// Candidate is the outcome of decoding one encoding. Invalid candidates are
// skipped by First and Latest.
type Candidate struct {
	Time  time.Time
	Valid bool
}

func valid(t time.Time) Candidate {
	t = t.UTC()
	if t.Before(minTime) || !t.Before(maxTime) {
		return Candidate{}
	}
	return Candidate{Time: t.Truncate(time.Microsecond), Valid: true}
}

// Filetime decodes 100ns ticks since 1601-01-01 UTC. WebKit timestamps share
// the epoch and go through the same path after scaling, see WebKit.
// Non-integer and non-positive values are rejected.
func Filetime(v any) Candidate {
	ticks, ok := asInt64(v)
	if !ok || ticks <= 0 {
		return Candidate{}
	}
	secs := ticks/ticksPerSecond - filetimeUnixDelta
	rem := ticks % ticksPerSecond
	return valid(time.Unix(secs, (rem/10)*int64(time.Microsecond)))
}

// WebKit decodes microseconds since 1601-01-01 UTC.
func WebKit(v any) Candidate {
	micros, ok := asInt64(v)
	if !ok || micros <= 0 {
		return Candidate{}
	}
	if micros > math.MaxInt64/10 {
		return Candidate{}
	}
	return Filetime(micros * 10)
}

// UnixMicro decodes plaso's normalized microseconds since the Unix epoch.
func UnixMicro(v any) Candidate {
	micros, ok := asInt64(v)
	if !ok {
		return Candidate{}
	}
	return valid(time.UnixMicro(micros))
}

// UnixSeconds decodes seconds since the Unix epoch.
func UnixSeconds(v any) Candidate {
	secs, ok := asInt64(v)
	if !ok {
		return Candidate{}
	}
	return valid(time.Unix(secs, 0))
}

// UnixMilli decodes milliseconds since the Unix epoch.
func UnixMilli(v any) Candidate {
	millis, ok := asInt64(v)
	if !ok {
		return Candidate{}
	}
	return valid(time.UnixMilli(millis))
}

// UnixNano decodes nanoseconds since the Unix epoch.
func UnixNano(v any) Candidate {
	nanos, ok := asInt64(v)
	if !ok {
		return Candidate{}
	}
	return valid(time.Unix(0, nanos))
}

// OLEAutomation decodes a floating day count since 1899-12-30. Zero marks an
// unset value and is rejected.
func OLEAutomation(v any) Candidate {
	days, ok := asFloat64(v)
	if !ok || days <= 0 || math.IsNaN(days) || math.IsInf(days, 0) {
		return Candidate{}
	}
	// beyond year 9999, keeps the multiplication in range
	if days > 3_000_000 {
		return Candidate{}
	}
	micros := int64(math.Round(days * microsPerDay))
	return valid(time.UnixMicro(oleEpoch.UnixMicro() + micros))
}

// TimeElements decodes a (year, month, day, hour, minute, second) tuple.
// Out of range components invalidate the tuple rather than rolling over.
func TimeElements(v any) Candidate {
	list, ok := v.([]any)
	if !ok || len(list) < 6 {
		return Candidate{}
	}
	var parts [6]int
	for i := 0; i < 6; i++ {
		n, ok := asInt64(list[i])
		if !ok {
			return Candidate{}
		}
		parts[i] = int(n)
	}
	year, month, day := parts[0], parts[1], parts[2]
	hour, minute, second := parts[3], parts[4], parts[5]
	if year < 1 || year > 9999 || month < 1 || month > 12 ||
		hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return Candidate{}
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if day < 1 || t.Day() != day {
		return Candidate{}
	}
	return valid(t)
}

// ISO8601 parses textual timestamps such as EVTX SystemTime. Fractions longer
// than six digits are truncated; a missing offset means UTC.
func ISO8601(v any) Candidate {
	s, ok := v.(string)
	if !ok {
		return Candidate{}
	}
	m := isoPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Candidate{}
	}
	date, clock, frac, zone := m[1], m[2], m[3], m[4]
	if len(frac) > 6 {
		frac = frac[:6]
	}
	switch {
	case zone == "" || zone == "z":
		zone = "Z"
	case zone != "Z" && !strings.Contains(zone, ":"):
		zone = zone[:3] + ":" + zone[3:]
	}
	normalized := date + "T" + clock
	if frac != "" {
		normalized += "." + frac
	}
	normalized += zone

	t, err := time.Parse(time.RFC3339Nano, normalized)
	if err != nil {
		return Candidate{}
	}
	return valid(t)
}

// Format renders t in the canonical layout.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// First returns the formatted value of the first valid candidate, or nil.
// Callers list the artefact's native encoding before the normalized one.
func First(candidates ...Candidate) *string {
	for _, c := range candidates {
		if c.Valid {
			s := Format(c.Time)
			return &s
		}
	}
	return nil
}

// Latest returns the formatted value of the latest valid candidate, or nil.
func Latest(candidates ...Candidate) *string {
	var (
		best  time.Time
		found bool
	)
	for _, c := range candidates {
		if !c.Valid {
			continue
		}
		if !found || c.Time.After(best) {
			best, found = c.Time, true
		}
	}
	if !found {
		return nil
	}
	s := Format(best)
	return &s
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
