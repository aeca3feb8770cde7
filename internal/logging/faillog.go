package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const failureLogName = "failures.log"

// FailureLog is the append-only log of expected portal failures. One line per
// failure, carrying the timestamp, operation name, chat id and error text.
type FailureLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFailureLog rotates any existing failure log (renaming it with a suffix
// derived from its mtime) and opens a fresh one at dir/failures.log.
func OpenFailureLog(dir string) (*FailureLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create failure log dir: %w", err)
	}
	path := filepath.Join(dir, failureLogName)
	if info, err := os.Stat(path); err == nil {
		suffix := info.ModTime().Format("02_01_2006__15_04_05")
		rotated := filepath.Join(dir, fmt.Sprintf("failures_%s.log", suffix))
		if err := os.Rename(path, rotated); err != nil {
			return nil, fmt.Errorf("rotate failure log: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	return &FailureLog{file: file}, nil
}

// Record appends one failure line. Errors writing the log are swallowed: the
// failure being recorded is already surfacing to the caller by other means.
func (f *FailureLog) Record(op string, chatID string, err error) {
	if f == nil || err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return
	}
	line := fmt.Sprintf("[%s] op=%s chat=%s err=%s\n",
		time.Now().Format("02.01.2006 15:04:05"), op, chatID, err.Error())
	_, _ = f.file.WriteString(line)
}

// Close releases the underlying file.
func (f *FailureLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
