// Package telemetry assembles periodic diagnostic reports: traceback blocks
// mined from the error log plus collected records, packed with the binary
// packer and POSTed to the telemetry endpoint.
package telemetry

import (
	"bufio"
	"io"
	"strings"
	"time"
)

// TracebackMarker opens an error block in the shared error log.
const TracebackMarker = "Traceback (most recent call last):"

const timestampLayout = "2006-01-02 15:04:05"

// DefaultMaxTracebackLines caps the collected output.
const DefaultMaxTracebackLines = 1000

// CollectTracebacks scans a line stream for error blocks logged at or after
// the cutoff. Each hit contributes the line preceding the marker, the marker
// itself, and everything up to the next timestamped line. Only the last
// maxLines lines are kept.
func CollectTracebacks(r io.Reader, cutoff time.Time, maxLines int) (string, error) {
	if maxLines <= 0 {
		maxLines = DefaultMaxTracebackLines
	}

	var (
		collected []string
		logDt     time.Time
		prev      string
		haveLine  bool
		collect   bool
	)

	emit := func(line string) {
		collected = append(collected, line)
		if len(collected) > maxLines {
			collected = collected[len(collected)-maxLines:]
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if dt, ok := leadingTimestamp(line); ok {
			logDt = dt
			collect = false
		} else if collect {
			emit(line)
		}

		if line == TracebackMarker && !collect && !logDt.Before(cutoff) {
			if haveLine {
				emit(prev)
			}
			emit(line)
			collect = true
		}

		prev = line
		haveLine = true
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(collected, "\n"), nil
}

// leadingTimestamp parses a "YYYY-MM-DD HH:MM:SS" prefix.
func leadingTimestamp(line string) (time.Time, bool) {
	if len(line) < len(timestampLayout) {
		return time.Time{}, false
	}
	dt, err := time.Parse(timestampLayout, line[:len(timestampLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return dt, true
}
