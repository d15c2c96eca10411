// Package symbolcodec canonicalizes and parses broker option tradingsymbols.
//
// The canonical form is the `{SYMBOL}{DDMMMYY}{STRIKE}{CE/PE}`
// SmartAPI-style representation used when placing orders. Two other
// spellings some brokers report in position listings are rewritten to it:
// `{SYMBOL}{DDMMMYY}{C|P}{STRIKE}` and `{SYMBOL}{DDMMMYY}{STRIKE}{C|P}`.
package symbolcodec

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	canonicalSuffix = regexp.MustCompile(`(CE|PE)$`)
	directionPrefix = regexp.MustCompile(`^([A-Z]+)(\d{2}[A-Z]{3}\d{2})([CP])(\d+)$`)
	directionSuffix = regexp.MustCompile(`^([A-Z]+)(\d{2}[A-Z]{3}\d{2})(\d+)([CP])$`)
)

// Canonicalize normalizes broker-specific option symbol spellings to the
// canonical `{SYMBOL}{DDMMMYY}{STRIKE}{CE/PE}` representation.
func Canonicalize(symbol string) string {
	sanitized := strings.ToUpper(strings.TrimSpace(symbol))
	if sanitized == "" || sanitized == "NAN" || sanitized == "NONE" || sanitized == "NULL" {
		return ""
	}
	if canonicalSuffix.MatchString(sanitized) {
		return sanitized
	}
	if m := directionPrefix.FindStringSubmatch(sanitized); m != nil {
		prefix, expiry, cp, strike := m[1], m[2], m[3], m[4]
		return prefix + expiry + strike + cp + "E"
	}
	if m := directionSuffix.FindStringSubmatch(sanitized); m != nil {
		prefix, expiry, strike, cp := m[1], m[2], m[3], m[4]
		return prefix + expiry + strike + cp + "E"
	}
	return sanitized
}

// Equal compares two tradingsymbols after canonicalization.
func Equal(lhs, rhs string) bool {
	l, r := Canonicalize(lhs), Canonicalize(rhs)
	return l != "" && r != "" && l == r
}

// ParsedSymbol is the decomposed form of a canonical option tradingsymbol.
type ParsedSymbol struct {
	Underlying string
	Expiry     time.Time
	Strike     int
	Side       string // "CE" or "PE"
}

var canonicalPattern = regexp.MustCompile(`^([A-Z]+)(\d{2})([A-Z]{3})(\d{2})(\d+)(CE|PE)$`)

var monthAbbrev = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// Parse decomposes a canonical tradingsymbol into its underlying, expiry,
// strike and side. ok is false if the symbol does not match the expected
// shape.
func Parse(symbol string) (ps ParsedSymbol, ok bool) {
	canon := Canonicalize(symbol)
	m := canonicalPattern.FindStringSubmatch(canon)
	if m == nil {
		return ParsedSymbol{}, false
	}
	underlying, dd, mon, yy, strikeStr, side := m[1], m[2], m[3], m[4], m[5], m[6]
	month, known := monthAbbrev[mon]
	if !known {
		return ParsedSymbol{}, false
	}
	day, err := strconv.Atoi(dd)
	if err != nil {
		return ParsedSymbol{}, false
	}
	year, err := strconv.Atoi(yy)
	if err != nil {
		return ParsedSymbol{}, false
	}
	strikeVal, err := strconv.Atoi(strikeStr)
	if err != nil {
		return ParsedSymbol{}, false
	}
	return ParsedSymbol{
		Underlying: underlying,
		Expiry:     time.Date(2000+year, month, day, 15, 30, 0, 0, time.UTC),
		Strike:     strikeVal,
		Side:       side,
	}, true
}
