package receiver

import (
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"
	"go.uber.org/zap"

	"rs_recon/internal/classify"
	"rs_recon/internal/logging"
	"rs_recon/internal/metrics"
	"rs_recon/internal/packet"
	"rs_recon/internal/results"
)

// StopReason is the terminal state of a capture loop.
type StopReason int

const (
	Running StopReason = iota
	StoppedByTimeout
	StoppedBySignal
)

func (r StopReason) String() string {
	switch r {
	case StoppedByTimeout:
		return "timeout"
	case StoppedBySignal:
		return "signal"
	}
	return "running"
}

// Capture feeds frames from a PacketSource through decode, classification
// and aggregation. A Capture is driven by a single goroutine.
type Capture struct {
	src     PacketSource
	dec     *packet.Decoder
	setting *classify.Setting
	res     *results.ScanResults

	log     *zap.Logger
	metrics *metrics.Metrics
	// OnRecord, if set, is called for every outcome that added a new entry.
	OnRecord func(classify.Outcome)

	frame      packet.Frame
	readErrors uint64
}

// NewCapture wires a capture loop for frames of the given link type.
func NewCapture(src PacketSource, link layers.LinkType, setting *classify.Setting,
	res *results.ScanResults, log *zap.Logger, m *metrics.Metrics) (*Capture, error) {
	dec, err := packet.NewDecoder(link)
	if err != nil {
		return nil, err
	}
	return &Capture{
		src:     src,
		dec:     dec,
		setting: setting,
		res:     res,
		log:     logging.OrNop(log).Named("capture"),
		metrics: m,
	}, nil
}

// Step performs one read and, on success, processes the frame to
// completion. It reports whether a new result was recorded.
func (c *Capture) Step() bool {
	data, _, err := c.src.ReadPacket()
	if err != nil {
		c.readErrors++
		c.metrics.ReadError()
		return false
	}
	c.metrics.FrameRead()

	if !c.dec.Decode(data, &c.frame) {
		c.metrics.FrameDropped()
		return false
	}

	o := classify.Classify(c.setting, &c.frame)
	if o.Kind == classify.None || !c.res.Apply(o) {
		return false
	}
	c.metrics.Outcome(o.Kind.String())
	c.log.Debug("recorded",
		zap.Stringer("kind", o.Kind),
		zap.Stringer("addr", o.Addr),
		zap.Uint16("port", o.Port),
		zap.Uint8("ttl", o.TTL))
	if c.OnRecord != nil {
		c.OnRecord(o)
	}
	return true
}

// Drain handles up to limit frames and returns how many it read. It stops at
// the first read error, which on a live handle means the poll timeout
// passed with nothing queued.
func (c *Capture) Drain(limit int) int {
	n := 0
	for n < limit {
		errs := c.readErrors
		c.Step()
		if c.readErrors != errs {
			break
		}
		n++
	}
	return n
}

// Run loops until any stop flag is set or the setting's timeout has elapsed
// since Run was called. Flags are checked after every iteration, never while
// a frame is being processed. A non-positive timeout disables the deadline.
func (c *Capture) Run(stop ...*atomic.Bool) StopReason {
	start := time.Now()
	for {
		c.Step()
		if reason := c.Check(start, stop...); reason != Running {
			c.log.Debug("capture finished",
				zap.Stringer("reason", reason),
				zap.Duration("elapsed", time.Since(start)),
				zap.Uint64("read_errors", c.readErrors))
			return reason
		}
	}
}

// Check evaluates the stop flags and the deadline measured from start.
func (c *Capture) Check(start time.Time, stop ...*atomic.Bool) StopReason {
	for _, s := range stop {
		if s != nil && s.Load() {
			return StoppedBySignal
		}
	}
	if c.setting.Timeout > 0 && time.Since(start) >= c.setting.Timeout {
		return StoppedByTimeout
	}
	return Running
}
