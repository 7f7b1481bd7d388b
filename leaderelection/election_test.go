package leaderelection_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pkt.systems/mqsession/hlc"
	"pkt.systems/mqsession/leaderelection"
	"pkt.systems/mqsession/statestore"
)

// fakeStore is a minimal in-memory state store for election tests.
type fakeStore struct {
	id string

	mu      sync.Mutex
	entries map[string]fakeEntry
	notify  []chan statestore.Notify[string, []byte]
	counter int64
}

type fakeEntry struct {
	value   []byte
	version hlc.HybridLogicalClock
}

func newFakeStore(id string) *fakeStore {
	return &fakeStore{id: id, entries: map[string]fakeEntry{}}
}

// candidate presents the shared store under a different client identity.
type candidate struct {
	*fakeStore
	clientID string
}

func (c candidate) ID() string { return c.clientID }

func (f *fakeStore) ID() string { return f.id }

func (f *fakeStore) Set(
	_ context.Context, key string, val []byte, opt ...statestore.SetOption,
) (*statestore.Response[bool], error) {
	var opts statestore.SetOptions
	opts.Apply(opt)

	f.mu.Lock()
	defer f.mu.Unlock()

	cur, exists := f.entries[key]
	switch opts.Condition {
	case statestore.NotExists:
		if exists {
			return &statestore.Response[bool]{Version: cur.version}, nil
		}
	case statestore.NotExistsOrEqual:
		if exists && !bytes.Equal(cur.value, val) {
			return &statestore.Response[bool]{Version: cur.version}, nil
		}
	}

	f.counter++
	version, err := hlc.Parse(fmt.Sprintf("%015d:00000:fake", f.counter))
	if err != nil {
		panic(err)
	}
	f.entries[key] = fakeEntry{value: bytes.Clone(val), version: version}
	f.send(key, "SET", val, version)
	return &statestore.Response[bool]{Value: true, Version: version}, nil
}

func (f *fakeStore) Get(
	_ context.Context, key string, _ ...statestore.GetOption,
) (*statestore.Response[[]byte], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[key]
	if !ok {
		return &statestore.Response[[]byte]{}, nil
	}
	return &statestore.Response[[]byte]{
		Value:   bytes.Clone(entry.value),
		Version: entry.version,
	}, nil
}

func (f *fakeStore) Del(
	_ context.Context, key string, _ ...statestore.DelOption,
) (*statestore.Response[int], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[key]; !ok {
		return &statestore.Response[int]{}, nil
	}
	delete(f.entries, key)
	f.send(key, "DELETE", nil, hlc.HybridLogicalClock{})
	return &statestore.Response[int]{Value: 1}, nil
}

func (f *fakeStore) VDel(
	_ context.Context, key string, val []byte, _ ...statestore.DelOption,
) (*statestore.Response[int], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[key]
	if !ok {
		return &statestore.Response[int]{}, nil
	}
	if !bytes.Equal(entry.value, val) {
		return &statestore.Response[int]{Value: -1}, nil
	}
	delete(f.entries, key)
	f.send(key, "DELETE", nil, hlc.HybridLogicalClock{})
	return &statestore.Response[int]{Value: 1}, nil
}

func (f *fakeStore) KeyNotify(
	context.Context, string, ...statestore.KeyNotifyOption,
) error {
	return nil
}

func (f *fakeStore) KeyNotifyStop(
	context.Context, string, ...statestore.KeyNotifyOption,
) error {
	return nil
}

func (f *fakeStore) Notify(
	string,
) (<-chan statestore.Notify[string, []byte], func()) {
	ch := make(chan statestore.Notify[string, []byte], 8)

	f.mu.Lock()
	f.notify = append(f.notify, ch)
	f.mu.Unlock()

	return ch, sync.OnceFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.notify {
			if c == ch {
				f.notify = append(f.notify[:i], f.notify[i+1:]...)
				break
			}
		}
		close(ch)
	})
}

// send must be called with f.mu held.
func (f *fakeStore) send(
	key, op string, val []byte, version hlc.HybridLogicalClock,
) {
	for _, ch := range f.notify {
		ch <- statestore.Notify[string, []byte]{
			Key:       key,
			Operation: op,
			Value:     val,
			Version:   version,
		}
	}
}

func TestCampaignAndResign(t *testing.T) {
	t.Parallel()

	store := newFakeStore("candidate-a")
	election, err := leaderelection.New[string, []byte](store, "leader")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if got := election.Position(); got != "leader" {
		t.Errorf("Position = %q, want leader", got)
	}

	// Nobody has been elected yet.
	if _, err := election.Term(ctx); !errors.Is(err, leaderelection.ErrNotLeader) {
		t.Fatalf("Term err = %v, want ErrNotLeader", err)
	}

	if err := election.Campaign(ctx, time.Minute); err != nil {
		t.Fatal(err)
	}

	term, err := election.Term(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if term.IsZero() {
		t.Error("term token is zero while leading")
	}

	leader, held, err := election.Leader(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !held || leader != "candidate-a" {
		t.Errorf("Leader = %q, %v, want candidate-a, true", leader, held)
	}

	if err := election.Resign(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := election.Term(ctx); !errors.Is(err, leaderelection.ErrNotLeader) {
		t.Errorf("Term err after resigning = %v, want ErrNotLeader", err)
	}
	if _, held, _ := election.Leader(ctx); held {
		t.Error("position still held after resigning")
	}
}

func TestTryCampaignAgainstIncumbent(t *testing.T) {
	t.Parallel()

	store := newFakeStore("candidate-a")
	incumbent, err := leaderelection.New[string, []byte](store, "leader")
	if err != nil {
		t.Fatal(err)
	}
	challenger, err := leaderelection.New[string, []byte](
		candidate{store, "candidate-b"}, "leader")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	elected, err := incumbent.TryCampaign(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !elected {
		t.Fatal("TryCampaign = false for an open position")
	}

	elected, err = challenger.TryCampaign(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if elected {
		t.Fatal("TryCampaign = true against an incumbent")
	}
	if _, err := challenger.Term(ctx); !errors.Is(err, leaderelection.ErrNotLeader) {
		t.Errorf("challenger Term err = %v, want ErrNotLeader", err)
	}

	// Handover after the incumbent resigns.
	if err := incumbent.Resign(ctx); err != nil {
		t.Fatal(err)
	}
	elected, err = challenger.TryCampaign(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !elected {
		t.Fatal("TryCampaign = false after the incumbent resigned")
	}
}

func TestCampaignWaitsForHandover(t *testing.T) {
	t.Parallel()

	store := newFakeStore("candidate-a")
	incumbent, err := leaderelection.New[string, []byte](store, "leader")
	if err != nil {
		t.Fatal(err)
	}
	challenger, err := leaderelection.New[string, []byte](
		candidate{store, "candidate-b"}, "leader")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if elected, _ := incumbent.TryCampaign(ctx, time.Minute); !elected {
		t.Fatal("initial campaign failed")
	}

	elected := make(chan error, 1)
	go func() {
		elected <- challenger.Campaign(ctx, time.Minute)
	}()

	select {
	case err := <-elected:
		t.Fatalf("Campaign returned %v against an incumbent", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := incumbent.Resign(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-elected:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the leadership handover")
	}

	leader, _, err := challenger.Leader(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if leader != "candidate-b" {
		t.Errorf("leader = %q, want candidate-b", leader)
	}
}

func TestObserveLeadershipChanges(t *testing.T) {
	t.Parallel()

	store := newFakeStore("candidate-a")
	election, err := leaderelection.New[string, []byte](store, "leader")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := election.ObserveStart(ctx); err != nil {
		t.Fatal(err)
	}
	defer election.ObserveStop(ctx)

	changes, remove := election.Observe()
	defer remove()

	if elected, _ := election.TryCampaign(ctx, time.Minute); !elected {
		t.Fatal("campaign failed")
	}

	select {
	case change := <-changes:
		if !change.Elected || change.Leader != "candidate-a" {
			t.Errorf("change = %+v, want candidate-a elected", change)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the election change")
	}

	if err := election.Resign(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case change := <-changes:
		if change.Elected {
			t.Errorf("change = %+v, want vacated", change)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the resignation change")
	}
}
