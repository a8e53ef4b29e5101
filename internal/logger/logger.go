package logger

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level orders the message prefixes the runner writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps LOG_LEVEL values to a Level; unknown values mean INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Rotator implements io.Writer and handles log file rotation based on size.
type Rotator struct {
	Filename   string
	MaxSize    int64 // Bytes
	MaxBackups int
	file       *os.File
	size       int64
	mu         sync.Mutex
}

// Setup routes the standard logger to stdout and a rotating file, dropping
// lines below level. Messages carry their level as a prefix
// ("DEBUG: ", "WARNING: ", "ERROR: "); unprefixed lines are INFO.
func Setup(filename string, maxSizeMB int64, maxBackups int, level string) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var out io.Writer = os.Stdout
	rotator := &Rotator{
		Filename:   filename,
		MaxSize:    maxSizeMB * 1024 * 1024,
		MaxBackups: maxBackups,
	}
	if err := rotator.openExistingOrNew(); err != nil {
		log.Printf("WARNING: Failed to open log file, using stdout only: %v", err)
	} else {
		out = io.MultiWriter(os.Stdout, rotator)
	}

	log.SetOutput(&LevelWriter{Out: out, Min: ParseLevel(level)})
}

// LevelWriter drops log lines whose prefix is below Min.
type LevelWriter struct {
	Out io.Writer
	Min Level
}

func (w *LevelWriter) Write(p []byte) (int, error) {
	if lineLevel(p) < w.Min {
		// report success so the log package does not complain
		return len(p), nil
	}
	return w.Out.Write(p)
}

// lineLevel finds the level prefix after the date, time and file:line header.
func lineLevel(p []byte) Level {
	switch {
	case bytes.Contains(p, []byte(" ERROR: ")):
		return LevelError
	case bytes.Contains(p, []byte(" WARNING: ")):
		return LevelWarn
	case bytes.Contains(p, []byte(" DEBUG: ")):
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (r *Rotator) openExistingOrNew() error {
	info, err := os.Stat(r.Filename)
	if os.IsNotExist(err) {
		return r.openNew()
	}
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.Filename, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *Rotator) openNew() error {
	f, err := os.OpenFile(r.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	return nil
}

// Write satisfies the io.Writer interface. It checks size and rotates if needed.
func (r *Rotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err = r.openExistingOrNew(); err != nil {
			return 0, err
		}
	}

	if r.MaxSize > 0 && r.size+int64(len(p)) > r.MaxSize {
		if err := r.rotate(); err != nil {
			// keep writing to whatever is open
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close releases the current file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// rotate shifts file.N to file.N+1, the live file to file.1, and reopens.
func (r *Rotator) rotate() error {
	if r.file != nil {
		r.file.Close()
	}

	for i := r.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", r.Filename, i)
		if _, err := os.Stat(oldPath); os.IsNotExist(err) {
			continue
		}
		os.Rename(oldPath, fmt.Sprintf("%s.%d", r.Filename, i+1))
	}

	if r.MaxBackups > 0 {
		if _, err := os.Stat(r.Filename); err == nil {
			os.Rename(r.Filename, r.Filename+".1")
		}
	}

	return r.openNew()
}
