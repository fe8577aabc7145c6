// Package probelock keeps two tool instances from driving the same debug
// probe at once.
package probelock

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// BusyError is returned when another process holds the probe.
type BusyError struct {
	Path string
	// PID is the holder's pid, 0 when it could not be read.
	PID int
}

func (e *BusyError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s was locked by pid %d, another instance may be using the probe", e.Path, e.PID)
	}
	return fmt.Sprintf("%s was locked, another instance may be using the probe", e.Path)
}

// Lock is an exclusive per-probe lock file holding the owner's pid.
type Lock struct {
	path string
	file *os.File
	lock *flock.Flock
}

// Acquire creates dir if needed and locks the lock file of probe.
func Acquire(dir, probe string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create lock dir")
	}
	l := &Lock{
		path: filepath.Join(dir, FileName(probe)),
	}

	err := l.tryLockFile()
	if err != nil {
		return nil, err
	}

	err = l.openFile()
	if err != nil {
		l.Close()
		return nil, err
	}

	err = l.writePid()
	if err != nil {
		l.Close()
		return nil, err
	}

	return l, nil
}

// FileName maps a probe identifier to its lock file name.
func FileName(probe string) string {
	if probe == "" {
		probe = "default"
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, probe)
	return "probe-" + name + ".lock"
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Close releases the lock and removes the lock file.
func (l *Lock) Close() {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if l.lock != nil {
		os.Remove(l.path)
		l.lock.Close()
		l.lock = nil
	}
}

func (l *Lock) tryLockFile() error {
	lock := flock.New(l.path)
	ok, err := lock.TryLock()
	if err != nil {
		return errors.Wrapf(err, "lock %s", l.path)
	}

	if !ok {
		return &BusyError{Path: l.path, PID: readPid(l.path)}
	}

	l.lock = lock
	return nil
}

func (l *Lock) openFile() error {
	flags := os.O_RDWR | os.O_TRUNC
	file, err := os.OpenFile(l.path, flags, 0)
	if err != nil {
		return err
	}

	l.file = file
	return nil
}

func (l *Lock) writePid() error {
	str := strconv.Itoa(os.Getpid())
	n, err := l.file.Write([]byte(str))
	if err != nil {
		return err
	}
	if n != len(str) {
		return io.ErrShortWrite
	}
	return nil
}

func readPid(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
