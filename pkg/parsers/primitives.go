package parsers

import (
	"math"
	"strconv"
	"strings"
)

// DecodeInt reads a signed integer. Empty or malformed text is absent.
func DecodeInt(token string) (int64, bool) {
	token = strings.TrimSpace(token)
	if !isNumeric(token, false) {
		return 0, false
	}
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DecodeUint reads an unsigned integer such as a set id.
func DecodeUint(token string) (uint64, bool) {
	token = strings.TrimSpace(token)
	if token == "" || token[0] == '-' || !isNumeric(token, false) {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(token, "+"), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DecodeDecimal reads an NM value: optional sign, digits and at most one decimal point.
// Exponents, thousands separators and locale specific marks are rejected.
func DecodeDecimal(token string) (float64, bool) {
	token = strings.TrimSpace(token)
	if !isNumeric(token, true) {
		return 0, false
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func EncodeInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func EncodeUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// EncodeDecimal renders the shortest text that reads back as v.
func EncodeDecimal(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isNumeric(token string, allowPoint bool) bool {
	if token == "" {
		return false
	}
	i := 0
	if token[0] == '+' || token[0] == '-' {
		i++
	}
	digits, points := 0, 0
	for ; i < len(token); i++ {
		switch c := token[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && allowPoint:
			points++
			if points > 1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}
