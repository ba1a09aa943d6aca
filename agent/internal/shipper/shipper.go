package shipper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/presencewatch/presencewatch/agent/internal/compute"
	"github.com/presencewatch/presencewatch/agent/internal/config"
	"github.com/presencewatch/presencewatch/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	// maxBatch caps how many buffered observations go into one write.
	maxBatch = 100
)

// messageWriter is the subset of *kafka.Writer the shipper uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Shipper buffers observations and publishes them to Kafka.
// Ship() is non-blocking; when the buffer is full the oldest observation is
// evicted. Run() must be called in a goroutine to drain the buffer.
type Shipper struct {
	topic   string
	buf     chan *types.Observation
	w       messageWriter
	initial time.Duration // first retry delay

	evicted atomic.Int64
}

// New creates a Shipper writing to the configured brokers and topic.
func New(cfg config.KafkaConfig) *Shipper {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newWithWriter(cfg, w)
}

func newWithWriter(cfg config.KafkaConfig, w messageWriter) *Shipper {
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Shipper{
		topic:   cfg.Topic,
		buf:     make(chan *types.Observation, size),
		w:       w,
		initial: backoffInitial,
	}
}

// Ship converts a compute.Result to an observation and enqueues it.
// If the buffer is full the oldest entry is evicted to make room.
func (s *Shipper) Ship(res *compute.Result) {
	obs := toObservation(res)
	for {
		select {
		case s.buf <- obs:
			return
		default:
		}
		select {
		case <-s.buf:
			s.evicted.Add(1)
			slog.Warn("shipper: buffer full, evicted oldest observation",
				"target", res.TargetID, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Pending returns the number of buffered observations.
func (s *Shipper) Pending() int {
	return len(s.buf)
}

// Evicted returns how many observations were dropped because the buffer was full.
func (s *Shipper) Evicted() int64 {
	return s.evicted.Load()
}

// Run drains the buffer to Kafka until ctx is cancelled. A batch that fails
// with a retryable error is held and retried with exponential backoff, so
// observations for a target stay in order. Batches rejected permanently are
// discarded.
func (s *Shipper) Run(ctx context.Context) {
	defer func() {
		if err := s.w.Close(); err != nil {
			slog.Warn("shipper: close writer", "err", err)
		}
	}()

	bo := newBackoff(s.initial)
	var batch []kafka.Message

	for {
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case obs := <-s.buf:
				batch = s.collect(obs)
			}
		}

		err := s.send(ctx, batch)
		switch {
		case err == nil:
			slog.Debug("shipper: batch delivered", "topic", s.topic, "count", len(batch))
			batch = nil
			bo.reset()
			continue
		case ctx.Err() != nil:
			return
		case isPermanentError(err):
			slog.Error("shipper: permanent write error, discarding batch",
				"topic", s.topic, "count", len(batch), "err", err)
			batch = nil
			continue
		}

		wait := bo.next()
		slog.Warn("shipper: write failed, will retry",
			"topic", s.topic, "count", len(batch), "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// collect builds a batch from first plus whatever else is already buffered.
func (s *Shipper) collect(first *types.Observation) []kafka.Message {
	batch := make([]kafka.Message, 0, 1+len(s.buf))
	if m, ok := encode(first); ok {
		batch = append(batch, m)
	}
	for len(batch) < maxBatch {
		select {
		case obs := <-s.buf:
			if m, ok := encode(obs); ok {
				batch = append(batch, m)
			}
		default:
			return batch
		}
	}
	return batch
}

func (s *Shipper) send(ctx context.Context, batch []kafka.Message) error {
	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.w.WriteMessages(ctx, batch...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(batch), err)
	}
	return nil
}

// encode turns an observation into a Kafka message keyed by target ID, so
// every observation of one target lands on the same partition.
func encode(obs *types.Observation) (kafka.Message, bool) {
	b, err := json.Marshal(obs)
	if err != nil {
		slog.Error("shipper: encode observation", "target", obs.TargetID, "err", err)
		return kafka.Message{}, false
	}
	return kafka.Message{Key: []byte(obs.TargetID), Value: b, Time: obs.Timestamp}, true
}

// isPermanentError reports whether err is a broker error that retrying will
// not fix, such as an oversized message or a missing authorization.
func isPermanentError(err error) bool {
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		permanent := false
		for _, e := range werrs {
			if e == nil {
				continue
			}
			if !isPermanentError(e) {
				return false
			}
			permanent = true
		}
		return permanent
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return !kerr.Temporary()
	}
	return false
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{initial: initial, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
