// Package textutil provides the small text and time helpers shared by the
// engines: parsing the portal's two datetime shapes, `{a|b}` random template
// expansion, and display truncation.
package textutil

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// The portal emits ISO-8601 with a colon in the offset on some endpoints and
// the compact `%Y-%m-%dT%H:%M:%S%z` form on others. Both are accepted, in
// this order.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
}

// ParseDatetime parses a portal timestamp, trying each accepted layout.
func ParseDatetime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range datetimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q: %w", s, lastErr)
}

// RandText expands every `{a|b|c}` group in s by picking one alternative at
// random. Groups may nest; inner groups are resolved first. The result never
// contains braces and is never longer than the input.
func RandText(s string) string {
	return randText(s, rand.Intn)
}

// randText is the deterministic core of RandText; pick receives the number of
// alternatives and returns the chosen index.
func randText(s string, pick func(n int) int) string {
	for {
		open := -1
		done := true
		for i := 0; i < len(s); i++ {
			switch s[i] {
			case '{':
				open = i
			case '}':
				if open < 0 {
					continue
				}
				alts := strings.Split(s[open+1:i], "|")
				s = s[:open] + alts[pick(len(alts))] + s[i+1:]
				done = false
			}
			if !done {
				break
			}
		}
		if done {
			return s
		}
	}
}

// Truncate shortens s to at most max runes, appending an ellipsis when the
// value was cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max == 1 {
		return string(runes[:1])
	}
	return string(runes[:max-1]) + "…"
}

// RandomDelay sleeps for a uniform duration in [min, max). The apply and
// reply engines use it to pace write endpoints.
func RandomDelay(min, max time.Duration) {
	time.Sleep(min + time.Duration(rand.Int63n(int64(max-min))))
}

// Substitute replaces every `%(name)s` placeholder in template with its value
// from vars. Unknown placeholders are left untouched so a malformed template
// is visible in the sent message rather than silently dropped.
func Substitute(template string, vars map[string]string) string {
	var b strings.Builder
	for {
		i := strings.Index(template, "%(")
		if i < 0 {
			b.WriteString(template)
			return b.String()
		}
		end := strings.Index(template[i:], ")s")
		if end < 0 {
			b.WriteString(template)
			return b.String()
		}
		name := template[i+2 : i+end]
		b.WriteString(template[:i])
		if v, ok := vars[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(template[i : i+end+2])
		}
		template = template[i+end+2:]
	}
}

const asciiLowerDigits = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomASCII returns a random lowercase+digit run of length in [min, max].
func RandomASCII(min, max int) string {
	n := min + rand.Intn(max-min+1)
	b := make([]byte, n)
	for i := range b {
		b[i] = asciiLowerDigits[rand.Intn(len(asciiLowerDigits))]
	}
	return string(b)
}
