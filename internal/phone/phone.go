// README: Phone normalization, validation and contact info projection types.
package phone

import "strings"

// ContactPhone is one phone/name pair shown to an authorized viewer.
type ContactPhone struct {
	Phone          string `json:"phone"`
	FormattedPhone string `json:"formattedPhone"`
	Name           string `json:"name"`
}

// ContactInfo is the origin/destination contact projection returned by the
// claim operation and the contact-info endpoint.
type ContactInfo struct {
	Origin []ContactPhone `json:"origin"`
	Target []ContactPhone `json:"target"`
}

// Digits strips everything but digits from a phone string.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid accepts Israeli-format numbers: all digits (after stripping
// separators), leading zero, 9 or 10 digits. Empty is not valid; optional
// fields skip validation at the call site.
func Valid(s string) bool {
	d := Digits(s)
	if len(d) != len(strings.Map(dropSeparators, s)) {
		return false
	}
	if len(d) != 9 && len(d) != 10 {
		return false
	}
	return d[0] == '0'
}

func dropSeparators(r rune) rune {
	switch r {
	case '-', ' ', '.':
		return -1
	}
	return r
}

// Format renders a number for display: "050-1234567" for mobiles,
// "03-1234567" for 9-digit landlines. Unrecognized input passes through.
func Format(s string) string {
	d := Digits(s)
	switch len(d) {
	case 10:
		return d[:3] + "-" + d[3:]
	case 9:
		return d[:2] + "-" + d[2:]
	}
	return s
}
