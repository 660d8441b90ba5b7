package output

import (
	"bufio"
	"io"

	"go.uber.org/zap"
)

// StreamWriter batches formatted results onto w (usually stdout).
type StreamWriter struct {
	batch *batchWriter
	out   *bufio.Writer
}

// NewStreamWriter creates a writer that batches results in format and
// flushes them to w. Table output cannot stream; Open renders it on Close instead.
func NewStreamWriter(w io.Writer, format string, batchSize int, log *zap.Logger) (*StreamWriter, error) {
	if _, err := NewFormatter(format, io.Discard); err != nil {
		return nil, err
	}
	s := &StreamWriter{
		out: bufio.NewWriterSize(w, 32768),
	}
	newFmt := func(buf io.Writer) Formatter {
		f, _ := NewFormatter(format, buf)
		return f
	}
	s.batch = newBatchWriter(batchSize, newFmt, func(data []byte) error {
		if _, err := s.out.Write(data); err != nil {
			return err
		}
		return s.out.Flush()
	}, log)
	return s, nil
}

func (s *StreamWriter) Write(res *Result) error {
	return s.batch.write(res)
}

func (s *StreamWriter) Close() error {
	batchErr := s.batch.close()
	flushErr := s.out.Flush()
	if batchErr != nil {
		return batchErr
	}
	return flushErr
}
