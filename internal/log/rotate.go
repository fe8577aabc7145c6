package log

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotateFileWriter writes to one file per day and removes files older than
// the configured number of days.
type RotateFileWriter struct {
	mu      sync.Mutex
	file    *os.File
	currDay string
	days    int
	dir     string
	name    string
	now     func() time.Time
}

// NewRotateFileWriter create a rotate file writer
func NewRotateFileWriter(dir string, name string, days int) *RotateFileWriter {
	if dir == "" {
		dir = "."
	}
	return &RotateFileWriter{
		days: days,
		dir:  dir,
		name: name,
		now:  time.Now,
	}
}

// Write writes data
func (w *RotateFileWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

// Close closes the current file.
func (w *RotateFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

const rotateTimeLayout = "20060102"

func (w *RotateFileWriter) rotate() error {
	now := w.now().Local()
	day := now.Format(rotateTimeLayout)
	if day == w.currDay && w.file != nil {
		return nil
	}

	path := filepath.Join(w.dir, w.name+"."+day)
	flag := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	perm := os.FileMode(0644) // -rw-r--r--
	file, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return err
	}
	if w.file != nil {
		w.file.Close()
	}
	w.file = file
	w.currDay = day
	if w.days > 0 {
		w.clearExpiredFiles(now)
	}
	return nil
}

func (w *RotateFileWriter) clearExpiredFiles(now time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}

	oldest := now.AddDate(0, 0, -w.days)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, w.name+".") {
			continue
		}
		suffix := name[len(w.name)+1:]
		t, err := time.ParseInLocation(rotateTimeLayout, suffix, time.Local)
		if err != nil {
			continue
		}
		if t.Before(oldest) {
			os.Remove(filepath.Join(w.dir, name))
		}
	}
}
