package diskfs

import "testing"

func TestMakeUnique(t *testing.T) {
	taken := map[string]bool{
		"LETTER.TXT":  true,
		"LETTER1.TXT": true,
		"NOTES":       true,
		"B.TEXT":      true,
	}
	exists := func(name string) bool { return taken[name] }

	cases := []struct {
		in, want string
		maxLen   int
	}{
		{"FRESH", "FRESH", 30},                // free names pass through
		{"LETTER.TXT", "LETTER2.TXT", 30},     // extension preserved, counter past taken suffixes
		{"NOTES", "NOTES1", 30},               // no extension, plain suffix
		{"B.TEXT", "B1.TEXT", 15},             // four-char extension still detected
		{"LETTER.TXT", "LETTE1.TXT", 10},      // stem trimmed to honor maxLen
	}
	for _, c := range cases {
		if got := MakeUnique(c.in, c.maxLen, exists); got != c.want {
			t.Errorf("MakeUnique(%q, %d) = %q, want %q", c.in, c.maxLen, got, c.want)
		}
	}
}
