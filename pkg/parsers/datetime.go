package parsers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/hl7/pkg/schema"
)

// DateTime is a decoded HL7 timestamp together with the precision it was written at.
// Components finer than Precision are zero in Time (month and day default to 1), so the
// decode is lossy; Precision is what lets Encode reproduce the original token.
type DateTime struct {
	Time      time.Time        `json:"time"`
	Precision schema.Precision `json:"precision"`
	// Fraction is the number of fractional second digits in the source token.
	Fraction int  `json:"fraction,omitempty"`
	HasZone  bool `json:"has_zone,omitempty"`
	// NegativeUTC marks a "-0000" zone, which differs from "+0000" on the wire.
	NegativeUTC bool `json:"negative_utc,omitempty"`
}

// IsZero reports whether dt holds no value.
func (dt DateTime) IsZero() bool {
	return dt.Time.IsZero() && dt.Precision == schema.PrecisionUnspecified
}

func (dt DateTime) String() string {
	return EncodeDateTime(dt, schema.PrecisionUnspecified)
}

// MarshalText renders the HL7 form so documents show the value as sent.
func (dt DateTime) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

// UnmarshalText reads the HL7 form.
func (dt *DateTime) UnmarshalText(text []byte) error {
	v, ok := DecodeDateTime(string(text), schema.PrecisionUnspecified)
	if !ok && len(text) > 0 {
		return fmt.Errorf("%w: datetime %q", ErrMalformedScalar, string(text))
	}
	*dt = v
	return nil
}

var precisionLayouts = map[schema.Precision]string{
	schema.PrecisionYear:   "2006",
	schema.PrecisionMonth:  "200601",
	schema.PrecisionDay:    "20060102",
	schema.PrecisionHour:   "2006010215",
	schema.PrecisionMinute: "200601021504",
	schema.PrecisionSecond: "20060102150405",
}

// DecodeDateTime reads YYYY[MM[DD[HH[MM[SS[.S[S[S[S]]]]]]]]][+/-ZZZZ]. The token's own
// length decides the precision; declared only matters when encoding a value without one.
// Invalid calendar values (month 13, February 30) are absent.
func DecodeDateTime(token string, declared schema.Precision) (DateTime, bool) {
	token = strings.TrimSpace(token)
	if len(token) < 4 {
		return DateTime{}, false
	}
	var dt DateTime
	loc := time.UTC
	if idx := strings.LastIndexAny(token, "+-"); idx >= 4 {
		zone := token[idx+1:]
		if len(zone) != 4 || !allDigits(zone) {
			return DateTime{}, false
		}
		hours, _ := strconv.Atoi(zone[:2])
		minutes, _ := strconv.Atoi(zone[2:])
		if hours > 14 || minutes > 59 {
			return DateTime{}, false
		}
		offset := hours*3600 + minutes*60
		if token[idx] == '-' {
			offset = -offset
		}
		loc = time.FixedZone("", offset)
		dt.HasZone = true
		dt.NegativeUTC = offset == 0 && token[idx] == '-'
		token = token[:idx]
	}

	digits, fraction, hasFraction := strings.Cut(token, ".")
	if !allDigits(digits) {
		return DateTime{}, false
	}
	switch len(digits) {
	case 4:
		dt.Precision = schema.PrecisionYear
	case 6:
		dt.Precision = schema.PrecisionMonth
	case 8:
		dt.Precision = schema.PrecisionDay
	case 10:
		dt.Precision = schema.PrecisionHour
	case 12:
		dt.Precision = schema.PrecisionMinute
	case 14:
		dt.Precision = schema.PrecisionSecond
	default:
		return DateTime{}, false
	}
	nanos := 0
	if hasFraction {
		if dt.Precision != schema.PrecisionSecond || len(fraction) == 0 || len(fraction) > 4 || !allDigits(fraction) {
			return DateTime{}, false
		}
		dt.Fraction = len(fraction)
		nanos, _ = strconv.Atoi(fraction + strings.Repeat("0", 9-len(fraction)))
	}

	// month and day default to 1, the clock to midnight
	parts := [6]int{0, 1, 1, 0, 0, 0}
	parts[0], _ = strconv.Atoi(digits[:4])
	for i, start := 1, 4; start+2 <= len(digits); i, start = i+1, start+2 {
		parts[i], _ = strconv.Atoi(digits[start : start+2])
	}
	year, month, day, hour, minute, second := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]
	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || second > 59 {
		return DateTime{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, nanos, loc)
	if t.Day() != day || int(t.Month()) != month {
		return DateTime{}, false
	}
	dt.Time = t
	return dt, true
}

// EncodeDateTime renders dt at its own precision. A value built in code without a
// precision is written at declared, or to the second when declared is unspecified.
func EncodeDateTime(dt DateTime, declared schema.Precision) string {
	if dt.IsZero() {
		return ""
	}
	p := dt.Precision
	if p == schema.PrecisionUnspecified {
		p = declared
	}
	layout, ok := precisionLayouts[p]
	if !ok {
		p = schema.PrecisionSecond
		layout = precisionLayouts[p]
	}
	out := dt.Time.Format(layout)
	if p == schema.PrecisionSecond && dt.Fraction > 0 {
		digits := dt.Fraction
		if digits > 9 {
			digits = 9
		}
		out += "." + fmt.Sprintf("%09d", dt.Time.Nanosecond())[:digits]
	}
	if dt.HasZone {
		zone := dt.Time.Format("-0700")
		if dt.NegativeUTC && zone == "+0000" {
			zone = "-0000"
		}
		out += zone
	}
	return out
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
