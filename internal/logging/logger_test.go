package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func initTestLogging(t *testing.T, level int) string {
	t.Helper()
	dir := t.TempDir()
	if err := Initialize(dir, level); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(CloseAll)
	return dir
}

func TestCategoryFilesCreated(t *testing.T) {
	dir := initTestLogging(t, LevelDebug)

	API("request sent")
	Store("row saved")

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	joined := strings.Join(names, " ")
	for _, want := range []string{"_api.log", "_store.log", "error.log"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected a %s file, got %v", want, names)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := initTestLogging(t, LevelWarn)

	l := Get(CategoryApply)
	l.Info("should be dropped")
	l.Warn("should be written")

	entries, _ := os.ReadDir(filepath.Join(dir, "logs"))
	for _, e := range entries {
		if strings.Contains(e.Name(), "_apply.log") {
			data, err := os.ReadFile(filepath.Join(dir, "logs", e.Name()))
			if err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
			if strings.Contains(string(data), "should be dropped") {
				t.Error("info line written despite warn level")
			}
			if !strings.Contains(string(data), "should be written") {
				t.Error("warn line missing")
			}
			return
		}
	}
	t.Fatal("apply log file not created")
}

func TestWarningsMirroredToErrorLog(t *testing.T) {
	dir := initTestLogging(t, LevelDebug)

	APIWarn("portal said %d", 502)

	data, err := os.ReadFile(filepath.Join(dir, "logs", "error.log"))
	if err != nil {
		t.Fatalf("error.log not readable: %v", err)
	}
	if !strings.Contains(string(data), "portal said 502") {
		t.Errorf("warning not mirrored: %s", data)
	}
	// Mirrored lines start with the timestamp shape the collector keys on.
	line := strings.SplitN(string(data), "\n", 2)[0]
	if len(line) < 19 || line[4] != '-' || line[10] != ' ' || line[13] != ':' {
		t.Errorf("unexpected error.log line shape: %q", line)
	}
}

func TestErrorBlock(t *testing.T) {
	dir := initTestLogging(t, LevelDebug)

	ErrorBlock("apply failed", []string{"stack line one", "stack line two"})

	data, err := os.ReadFile(filepath.Join(dir, "logs", "error.log"))
	if err != nil {
		t.Fatalf("error.log not readable: %v", err)
	}
	for _, want := range []string{"apply failed", "stack line one", "stack line two"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("error.log missing %q", want)
		}
	}
}

func TestNoopBeforeInitialize(t *testing.T) {
	CloseAll()
	// Must not panic or create files.
	Get(CategoryBoot).Info("dropped")
	Reply("dropped too")
}
