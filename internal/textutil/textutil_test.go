package textutil

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatetime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01T10:30:00+03:00", time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("", 3*3600))},
		{"2024-03-01T10:30:00+0300", time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("", 3*3600))},
	}
	for _, tc := range cases {
		got, err := ParseDatetime(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, got.Equal(tc.want), "%s parsed as %v", tc.in, got)
	}

	_, err := ParseDatetime("01.03.2024")
	assert.Error(t, err)
}

func TestRandTextConverges(t *testing.T) {
	inputs := []string{
		"",
		"no groups here",
		"{a|b|c}",
		"Hello, {Mr|Ms} %(last_name)s! {Nice|Glad} to {meet|see} you.",
		"{x{y|z}|w}",
	}
	for _, in := range inputs {
		out := RandText(in)
		assert.NotContains(t, out, "{", "input %q", in)
		assert.NotContains(t, out, "}", "input %q", in)
		assert.LessOrEqual(t, len(out), len(in), "input %q", in)
	}
}

func TestRandTextPicksAlternative(t *testing.T) {
	// Deterministic picker: always the last alternative.
	out := randText("{a|b|c} and {d|e}", func(n int) int { return n - 1 })
	assert.Equal(t, "c and e", out)

	out = randText("{a|b|c}", func(n int) int { return 0 })
	assert.Equal(t, "a", out)
}

func TestSubstitute(t *testing.T) {
	vars := map[string]string{
		"first_name":   "Ivan",
		"vacancy_name": "Go Developer",
	}
	out := Substitute("Hi, I am %(first_name)s, applying for %(vacancy_name)s.", vars)
	assert.Equal(t, "Hi, I am Ivan, applying for Go Developer.", out)

	// Unknown placeholders stay visible.
	out = Substitute("%(unknown)s stays", vars)
	assert.Equal(t, "%(unknown)s stays", out)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "a", Truncate("abc", 1))
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "", Truncate("abc", -3))
}

func TestRandomASCII(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := RandomASCII(5, 35)
		assert.GreaterOrEqual(t, len(s), 5)
		assert.LessOrEqual(t, len(s), 35)
		for _, r := range s {
			assert.True(t, strings.ContainsRune(asciiLowerDigits, r))
		}
	}
}
