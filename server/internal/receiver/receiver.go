package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/presencewatch/presencewatch/pkg/types"
	"github.com/presencewatch/presencewatch/server/internal/config"
	"github.com/presencewatch/presencewatch/server/internal/store"
)

const (
	backoffInitial = 500 * time.Millisecond
	backoffMax     = 30 * time.Second
)

// messageReader is the subset of *kafka.Reader the receiver uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Recorder persists accepted observations.
type Recorder interface {
	Record(ctx context.Context, obs *types.Observation) error
}

// Sink receives every accepted observation after it is stored. Alert
// evaluation and WebSocket fan-out are sinks.
type Sink interface {
	Notify(obs *types.Observation)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(obs *types.Observation)

// Notify calls f(obs).
func (f SinkFunc) Notify(obs *types.Observation) { f(obs) }

// Receiver consumes observations from Kafka, validates them and hands them to
// the history recorder, the store and any sinks.
type Receiver struct {
	r        messageReader
	store    *store.Store
	recorder Recorder
	sinks    []Sink
	initial  time.Duration
}

// New creates a Receiver reading from the configured topic as part of the
// configured consumer group. recorder may be nil.
func New(cfg config.KafkaConfig, st *store.Store, recorder Recorder, sinks ...Sink) *Receiver {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return newWithReader(r, st, recorder, sinks...)
}

func newWithReader(r messageReader, st *store.Store, recorder Recorder, sinks ...Sink) *Receiver {
	return &Receiver{
		r:        r,
		store:    st,
		recorder: recorder,
		sinks:    sinks,
		initial:  backoffInitial,
	}
}

// Run fetches and handles messages until ctx is cancelled, then closes the
// reader. Every fetched message is committed once handled, including
// malformed ones, so a poison message cannot stall the partition.
func (rc *Receiver) Run(ctx context.Context) {
	defer func() {
		if err := rc.r.Close(); err != nil {
			slog.Warn("receiver: close reader", "err", err)
		}
	}()

	delay := rc.initial
	for {
		msg, err := rc.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			slog.Warn("receiver: fetch failed", "err", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > backoffMax {
				delay = backoffMax
			}
			continue
		}
		delay = rc.initial

		rc.handle(ctx, msg)

		if err := rc.r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Warn("receiver: commit failed", "err", err, "offset", msg.Offset)
		}
	}
}

// handle decodes and dispatches one message.
func (rc *Receiver) handle(ctx context.Context, msg kafka.Message) {
	obs, err := decode(msg.Value)
	if err != nil {
		slog.Warn("receiver: dropping malformed observation",
			"err", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return
	}

	if rc.recorder != nil {
		if err := rc.recorder.Record(ctx, obs); err != nil {
			slog.Error("receiver: record observation", "err", err, "target_id", obs.TargetID)
		}
	}

	// Late arrivals still go to history but must not roll live state back.
	if !rc.store.Put(obs) {
		slog.Debug("receiver: ignoring out-of-order observation",
			"target_id", obs.TargetID,
			"timestamp", obs.Timestamp,
		)
		return
	}
	for _, s := range rc.sinks {
		s.Notify(obs)
	}

	slog.Debug("receiver: observation stored",
		"target_id", obs.TargetID,
		"target_type", obs.TargetType,
		"state", obs.State,
		"rtt_ms", obs.RTTMs,
	)
}

// decode parses and validates a wire observation.
func decode(b []byte) (*types.Observation, error) {
	var obs types.Observation
	if err := json.Unmarshal(b, &obs); err != nil {
		return nil, err
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return &obs, nil
}
