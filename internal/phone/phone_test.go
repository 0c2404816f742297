// README: Phone validation and formatting tests.
package phone

import "testing"

func TestValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"0501234567", true},
		{"050-1234567", true},
		{"050 123 4567", true},
		{"031234567", true},
		{"03-1234567", true},
		{"", false},
		{"501234567", false},   // no leading zero
		{"05012345678", false}, // too long
		{"05012345", false},    // too short
		{"050123456a", false},
		{"+972501234567", false},
	}
	for _, tc := range cases {
		if got := Valid(tc.in); got != tc.want {
			t.Errorf("Valid(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"0501234567", "050-1234567"},
		{"050-1234567", "050-1234567"},
		{"031234567", "03-1234567"},
		{"", ""},
		{"12345", "12345"}, // unrecognized passes through
	}
	for _, tc := range cases {
		if got := Format(tc.in); got != tc.want {
			t.Errorf("Format(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDigits(t *testing.T) {
	if got := Digits("050-123 45.67"); got != "0501234567" {
		t.Errorf("Digits = %q", got)
	}
}
