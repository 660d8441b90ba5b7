package output

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"rs_recon/internal/logging"
)

// Writer accepts results. Close flushes anything buffered and releases the
// destination.
type Writer interface {
	Write(res *Result) error
	Close() error
}

// Destination says where a command's results go.
type Destination struct {
	Format string
	File   string    // truncated and written when set
	Stdout io.Writer // used when File is empty
	Batch  int       // stdout batch threshold in bytes, for streaming formats
}

// Sink is the single result destination of one command.
type Sink struct {
	w       Writer
	log     *zap.Logger
	written atomic.Int64
}

// Open picks the writer for d. A file takes every format; stdout streams
// unless the format needs all records first.
func Open(d Destination, log *zap.Logger) (*Sink, error) {
	log = logging.OrNop(log)
	var (
		w   Writer
		err error
	)
	switch {
	case d.File != "":
		w, err = OpenFile(d.File, d.Format)
	case Streams(d.Format):
		w, err = NewStreamWriter(d.Stdout, d.Format, d.Batch, log)
	default:
		var f Formatter
		if f, err = NewFormatter(d.Format, d.Stdout); err == nil {
			w = &formatWriter{f: f}
		}
	}
	if err != nil {
		return nil, err
	}
	return &Sink{w: w, log: log}, nil
}

func (s *Sink) Write(res *Result) error {
	if err := s.w.Write(res); err != nil {
		return err
	}
	s.written.Add(1)
	return nil
}

// WriteAll writes rs in order and stops at the first error.
func (s *Sink) WriteAll(rs []*Result) error {
	for _, r := range rs {
		if err := s.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// Written returns the number of results accepted so far.
func (s *Sink) Written() int { return int(s.written.Load()) }

func (s *Sink) Close() error {
	s.log.Debug("closing result sink", zap.Int64("written", s.written.Load()))
	return s.w.Close()
}

// formatWriter serializes writes to a Formatter and closes c, if any, after
// the final flush.
type formatWriter struct {
	mu sync.Mutex
	f  Formatter
	c  io.Closer
}

// OpenFile truncates path and writes results to it in format.
func OpenFile(path, format string) (Writer, error) {
	file, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	f, err := NewFormatter(format, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &formatWriter{f: f, c: file}, nil
}

func (w *formatWriter) Write(res *Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Write(res)
}

func (w *formatWriter) Close() error {
	w.mu.Lock()
	err := w.f.Flush()
	w.mu.Unlock()
	if w.c != nil {
		if cerr := w.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
