package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFailureLogRecordsOneLinePerFailure(t *testing.T) {
	dir := t.TempDir()
	fl, err := OpenFailureLog(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fl.Record("schedule", "42", errors.New("status 401"))
	fl.Record("profile", "43", errors.New("no session"))
	if err := fl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "failures.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "op=schedule") || !strings.Contains(lines[0], "chat=42") || !strings.Contains(lines[0], "err=status 401") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
}

func TestFailureLogRotatesExistingFileOnOpen(t *testing.T) {
	dir := t.TempDir()
	fl, err := OpenFailureLog(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fl.Record("marks", "7", errors.New("bad payload"))
	if err := fl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	fl2, err := OpenFailureLog(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer fl2.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var rotated, fresh bool
	for _, e := range entries {
		switch {
		case e.Name() == "failures.log":
			fresh = true
		case strings.HasPrefix(e.Name(), "failures_") && strings.HasSuffix(e.Name(), ".log"):
			rotated = true
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				t.Fatalf("read rotated: %v", err)
			}
			if !strings.Contains(string(data), "op=marks") {
				t.Fatalf("rotated log lost content: %q", string(data))
			}
		}
	}
	if !rotated || !fresh {
		t.Fatalf("expected rotated + fresh log, rotated=%v fresh=%v", rotated, fresh)
	}

	data, err := os.ReadFile(filepath.Join(dir, "failures.log"))
	if err != nil {
		t.Fatalf("read fresh log: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty fresh log, got %q", string(data))
	}
}

func TestFailureLogNilReceiverIsSafe(t *testing.T) {
	var fl *FailureLog
	fl.Record("schedule", "42", errors.New("x")) // must not panic
}
