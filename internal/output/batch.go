package output

import (
	"bytes"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"rs_recon/internal/logging"
)

const (
	defaultBatchThreshold = 4096
	batchFlushInterval    = 250 * time.Millisecond
)

// batchWriter formats records into a buffer and hands whole batches to
// flushFn once the buffer passes threshold bytes or the flush interval
// elapses. Batches reach flushFn one at a time and in write order; writers
// are not held up while a batch is being written out.
type batchWriter struct {
	mu      sync.Mutex // guards buf, enc, closed, records
	buf     bytes.Buffer
	enc     Formatter
	closed  bool
	records int

	ioMu    sync.Mutex // serializes flushFn
	flushFn func([]byte) error

	threshold int
	log       *zap.Logger
	stop      chan struct{}
	done      chan struct{}
}

// newBatchWriter formats records with newFmt over an internal buffer. The
// formatter is flushed after every record so the buffer only ever holds
// whole records.
func newBatchWriter(threshold int, newFmt func(io.Writer) Formatter, flushFn func([]byte) error, log *zap.Logger) *batchWriter {
	if threshold <= 0 {
		threshold = defaultBatchThreshold
	}
	bw := &batchWriter{
		flushFn:   flushFn,
		threshold: threshold,
		log:       logging.OrNop(log),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	bw.enc = newFmt(&bw.buf)
	go bw.tick()
	return bw
}

func (bw *batchWriter) tick() {
	defer close(bw.done)
	t := time.NewTicker(batchFlushInterval)
	defer t.Stop()
	for {
		select {
		case <-bw.stop:
			return
		case <-t.C:
			if err := bw.flush(); err != nil {
				bw.log.Warn("periodic result flush failed", zap.Error(err))
			}
		}
	}
}

func (bw *batchWriter) write(res *Result) error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return nil
	}
	err := bw.enc.Write(res)
	if err == nil {
		err = bw.enc.Flush()
	}
	if err == nil {
		bw.records++
	}
	full := bw.buf.Len() >= bw.threshold
	bw.mu.Unlock()

	if err != nil {
		return err
	}
	if full {
		return bw.flush()
	}
	return nil
}

// flush takes the buffered batch and writes it out. Holding ioMu while the
// batch is taken keeps batches in order.
func (bw *batchWriter) flush() error {
	bw.ioMu.Lock()
	defer bw.ioMu.Unlock()

	bw.mu.Lock()
	if bw.buf.Len() == 0 {
		bw.mu.Unlock()
		return nil
	}
	data := bytes.Clone(bw.buf.Bytes())
	bw.buf.Reset()
	bw.mu.Unlock()

	return bw.flushFn(data)
}

// close stops the ticker and writes out whatever is left. Writes after
// close are dropped.
func (bw *batchWriter) close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return nil
	}
	bw.closed = true
	records := bw.records
	bw.mu.Unlock()

	close(bw.stop)
	<-bw.done
	err := bw.flush()
	bw.log.Debug("result stream closed", zap.Int("records", records))
	return err
}
