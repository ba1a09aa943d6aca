package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/kafka-go"

	"github.com/presencewatch/presencewatch/pkg/types"
	"github.com/presencewatch/presencewatch/server/internal/store"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeReader serves queued messages and then blocks until closed or the
// context ends.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{msgs: msgs, drained: make(chan struct{})}
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	if len(f.msgs) == 0 && len(f.fetchErrs) == 0 {
		select {
		case <-f.drained:
		default:
			close(f.drained)
		}
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (r *fakeRecorder) Record(_ context.Context, obs *types.Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, obs.ID)
	return r.err
}

func message(offset int64, obs types.Observation) kafka.Message {
	b, _ := json.Marshal(obs)
	return kafka.Message{Offset: offset, Key: []byte(obs.TargetID), Value: b}
}

func obs(id, target, state string, at time.Time) types.Observation {
	return types.Observation{ID: id, TargetID: target, TargetType: "http", State: state, Timestamp: at}
}

// run drives the receiver until every queued message has been committed.
func run(t *testing.T, rc *Receiver, fr *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rc.Run(ctx)
		close(done)
	}()
	select {
	case <-fr.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not drained")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_StoresRecordsAndNotifies(t *testing.T) {
	fr := newFakeReader(
		message(1, obs("a", "phone", types.PresenceOnline, t0)),
		message(2, obs("b", "tablet", types.PresenceStandby, t0)),
	)
	st := store.New(time.Minute)
	rec := &fakeRecorder{}
	var notified []string
	sink := SinkFunc(func(o *types.Observation) { notified = append(notified, o.TargetID) })

	rc := newWithReader(fr, st, rec, sink)
	run(t, rc, fr)

	if st.Count() != 2 {
		t.Errorf("store count: got %d, want 2", st.Count())
	}
	e, ok := st.Get("tablet")
	if !ok || e.Observation.State != types.PresenceStandby {
		t.Errorf("tablet entry: %+v", e)
	}
	if len(rec.seen) != 2 {
		t.Errorf("recorded: %v", rec.seen)
	}
	if len(notified) != 2 || notified[0] != "phone" || notified[1] != "tablet" {
		t.Errorf("notified: %v", notified)
	}
	if len(fr.committed) != 2 {
		t.Errorf("committed: %v", fr.committed)
	}
	if !fr.closed {
		t.Error("reader not closed after Run returned")
	}
}

func TestRun_MalformedMessagesAreCommittedAndSkipped(t *testing.T) {
	fr := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte("{not json")},
		message(2, obs("x", "", types.PresenceOnline, t0)), // missing target
		message(3, obs("y", "phone", "asleep", t0)),        // unknown state
		message(4, obs("z", "phone", types.PresenceOnline, t0)),
	)
	st := store.New(time.Minute)
	rec := &fakeRecorder{}

	rc := newWithReader(fr, st, rec)
	run(t, rc, fr)

	if st.Count() != 1 {
		t.Errorf("store count: got %d, want 1", st.Count())
	}
	if len(rec.seen) != 1 || rec.seen[0] != "z" {
		t.Errorf("recorded: %v", rec.seen)
	}
	if len(fr.committed) != 4 {
		t.Errorf("committed offsets: got %v, want all four", fr.committed)
	}
}

func TestRun_LateObservationRecordedButNotApplied(t *testing.T) {
	fr := newFakeReader(
		message(1, obs("new", "phone", types.PresenceStandby, t0.Add(time.Minute))),
		message(2, obs("old", "phone", types.PresenceOnline, t0)),
	)
	st := store.New(time.Minute)
	rec := &fakeRecorder{}
	notified := 0
	sink := SinkFunc(func(*types.Observation) { notified++ })

	rc := newWithReader(fr, st, rec, sink)
	run(t, rc, fr)

	e, _ := st.Get("phone")
	if e.Observation.State != types.PresenceStandby {
		t.Errorf("state rolled back to %q", e.Observation.State)
	}
	if len(rec.seen) != 2 {
		t.Errorf("recorded: %v, want both", rec.seen)
	}
	if notified != 1 {
		t.Errorf("notified %d times, want 1", notified)
	}
}

func TestRun_RecorderErrorDoesNotBlock(t *testing.T) {
	fr := newFakeReader(message(1, obs("a", "phone", types.PresenceOnline, t0)))
	st := store.New(time.Minute)
	rec := &fakeRecorder{err: errors.New("database is locked")}

	rc := newWithReader(fr, st, rec)
	run(t, rc, fr)

	if _, ok := st.Get("phone"); !ok {
		t.Error("observation not stored after recorder error")
	}
	if len(fr.committed) != 1 {
		t.Errorf("committed: %v", fr.committed)
	}
}

func TestRun_RetriesFetchErrors(t *testing.T) {
	fr := newFakeReader(message(1, obs("a", "phone", types.PresenceOnline, t0)))
	fr.fetchErrs = []error{errors.New("broker unavailable"), errors.New("broker unavailable")}
	st := store.New(time.Minute)

	rc := newWithReader(fr, st, nil)
	rc.initial = time.Millisecond
	run(t, rc, fr)

	if _, ok := st.Get("phone"); !ok {
		t.Error("observation not stored after transient fetch errors")
	}
}

func TestRun_ReturnsOnReaderEOF(t *testing.T) {
	fr := newFakeReader()
	fr.fetchErrs = []error{io.EOF}
	rc := newWithReader(fr, store.New(time.Minute), nil)

	done := make(chan struct{})
	go func() {
		rc.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on io.EOF")
	}
}

func TestRun_RedeliveredTransitionNotifiedOnce(t *testing.T) {
	changed := obs("t1", "phone", types.PresenceStandby, t0)
	changed.PreviousState = types.PresenceOnline
	changed.Changed = true
	fr := newFakeReader(message(1, changed), message(2, changed))
	st := store.New(time.Minute)
	rec := &fakeRecorder{}
	var transitions []string
	sink := SinkFunc(func(o *types.Observation) { transitions = append(transitions, o.ID) })

	rc := newWithReader(fr, st, rec, sink)
	run(t, rc, fr)

	if diff := cmp.Diff([]string{"t1"}, transitions); diff != "" {
		t.Errorf("notified (-want +got):\n%s", diff)
	}
	if len(rec.seen) != 2 {
		t.Errorf("recorded: %v, want both deliveries (history dedupes by ID)", rec.seen)
	}
}
