// Package pathlog appends path trace records to a plain text file.
package pathlog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// DefaultFile is the trace file written when no path is configured.
const DefaultFile = "problem1_pathtrace.csv"

const lineEnding = "\r\n"

// Record is one sample of the robot's progress.
type Record struct {
	Index        int
	DistanceMM   int
	EncoderLeft  int
	EncoderRight int
}

// Format renders the record without a line ending.
func (r Record) Format() string {
	return fmt.Sprintf("Index : %d,Current distance : %d mm, Motor Encoder L: %d, Motor Encoder R: %d",
		r.Index, r.DistanceMM, r.EncoderLeft, r.EncoderRight)
}

// Writer appends records, one per line.
type Writer struct {
	mu   sync.Mutex
	w    io.Writer
	file *os.File
}

// Open opens path for appending, creating it when missing.
func Open(path string) (*Writer, error) {
	if path == "" {
		path = DefaultFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open path log %s", path)
	}
	return &Writer{w: f, file: f}, nil
}

// NewWriter writes records to w. Closing the Writer does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends one record.
func (w *Writer) Write(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return errors.New("path log is closed")
	}
	if _, err := io.WriteString(w.w, r.Format()+lineEnding); err != nil {
		return errors.Wrap(err, "failed to write path record")
	}
	return nil
}

// Close closes the underlying file if Open created it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w = nil
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
