package leasedlock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pkt.systems/mqsession/hlc"
	"pkt.systems/mqsession/internal/clock"
	"pkt.systems/mqsession/statestore"
)

// fakeStore is an in-memory state store for lock tests. It honors the
// conditional set, value deletion, and expiry semantics the lock relies on.
type fakeStore struct {
	id string

	mu      sync.Mutex
	entries map[string]fakeEntry
	watch   map[string]int
	notify  map[string][]chan statestore.Notify[string, []byte]
	counter int64

	// lastFencingToken records the token of the most recent protected write.
	lastFencingToken hlc.HybridLogicalClock
}

type fakeEntry struct {
	value   []byte
	version hlc.HybridLogicalClock
	lease   time.Duration
}

func newFakeStore(id string) *fakeStore {
	return &fakeStore{
		id:      id,
		entries: map[string]fakeEntry{},
		watch:   map[string]int{},
		notify:  map[string][]chan statestore.Notify[string, []byte]{},
	}
}

func (f *fakeStore) ID() string { return f.id }

func (f *fakeStore) nextVersion() hlc.HybridLogicalClock {
	f.counter++
	v, err := hlc.Parse(fmt.Sprintf("%015d:00000:fake-store", f.counter))
	if err != nil {
		panic(err)
	}
	return v
}

func (f *fakeStore) Set(
	_ context.Context, key string, val []byte, opt ...statestore.SetOption,
) (*statestore.Response[bool], error) {
	var opts statestore.SetOptions
	opts.Apply(opt)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastFencingToken = opts.FencingToken

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

	entry := fakeEntry{
		value:   bytes.Clone(val),
		version: f.nextVersion(),
		lease:   opts.Expiry,
	}
	f.entries[key] = entry
	f.send(key, "SET", entry.value, entry.version)
	return &statestore.Response[bool]{Value: true, Version: entry.version}, nil
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
	_ context.Context, key string, opt ...statestore.DelOption,
) (*statestore.Response[int], error) {
	var opts statestore.DelOptions
	opts.Apply(opt)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastFencingToken = opts.FencingToken

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
	_ context.Context, key string, _ ...statestore.KeyNotifyOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watch[key]++
	return nil
}

func (f *fakeStore) KeyNotifyStop(
	_ context.Context, key string, _ ...statestore.KeyNotifyOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watch[key]--
	return nil
}

func (f *fakeStore) Notify(
	key string,
) (<-chan statestore.Notify[string, []byte], func()) {
	ch := make(chan statestore.Notify[string, []byte], 8)

	f.mu.Lock()
	f.notify[key] = append(f.notify[key], ch)
	f.mu.Unlock()

	return ch, sync.OnceFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		chans := f.notify[key]
		for i, c := range chans {
			if c == ch {
				f.notify[key] = append(chans[:i], chans[i+1:]...)
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
	for _, ch := range f.notify[key] {
		ch <- statestore.Notify[string, []byte]{
			Key:       key,
			Operation: op,
			Value:     val,
			Version:   version,
		}
	}
}

// expire simulates the lease lapsing on the store side.
func (f *fakeStore) expire(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; !ok {
		return
	}
	delete(f.entries, key)
	f.send(key, "DELETE", nil, hlc.HybridLogicalClock{})
}

func (f *fakeStore) value(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Clone(f.entries[key].value)
}

func (f *fakeStore) watchers(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watch[key]
}

// clientView presents the shared store under a different client identity.
type clientView struct {
	*fakeStore
	clientID string
}

func (v clientView) ID() string { return v.clientID }

func newTestLock(
	t *testing.T, store Store[string, []byte], opt ...Option,
) *Lock[string, []byte] {
	t.Helper()
	lock, err := New[string, []byte](store, "lock", opt...)
	if err != nil {
		t.Fatal(err)
	}
	return lock
}

func TestNewRequiresName(t *testing.T) {
	t.Parallel()

	_, err := New[string, []byte](newFakeStore("a"), "")
	if !errors.Is(err, statestore.ErrArgument) {
		t.Fatalf("err = %v, want an argument error", err)
	}
}

func TestTryAcquireAndRelease(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store)
	ctx := context.Background()

	ok, err := lock.TryAcquire(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("TryAcquire = false on a free lock")
	}
	if got := store.value("lock"); string(got) != "client-a" {
		t.Errorf("holder value = %q, want client-a", got)
	}

	token, err := lock.Token(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if token.IsZero() {
		t.Error("token is zero while the lock is held")
	}

	// A second client sees the lock as taken.
	otherLock := newTestLock(t, clientView{store, "client-b"})

	ok, err = otherLock.TryAcquire(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("TryAcquire = true on a held lock")
	}
	if _, err := otherLock.Token(ctx); !errors.Is(err, ErrNoLock) {
		t.Errorf("Token err = %v, want ErrNoLock", err)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := lock.Token(ctx); !errors.Is(err, ErrNoLock) {
		t.Errorf("Token err after release = %v, want ErrNoLock", err)
	}

	ok, err = otherLock.TryAcquire(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("TryAcquire = false after the holder released")
	}
}

func TestTryAcquireRefreshesOwnLease(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store)
	ctx := context.Background()

	if ok, _ := lock.TryAcquire(ctx, time.Minute); !ok {
		t.Fatal("initial acquisition failed")
	}
	first, _ := lock.Token(ctx)

	// The same holder re-acquiring refreshes the lease and bumps the token.
	ok, err := lock.TryAcquire(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("refresh failed")
	}
	second, _ := lock.Token(ctx)
	if second.Compare(first) <= 0 {
		t.Error("refreshed token is not newer")
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lockA := newTestLock(t, store)
	lockB := newTestLock(t, clientView{store, "client-b"})
	ctx := context.Background()

	if ok, _ := lockA.TryAcquire(ctx, time.Minute); !ok {
		t.Fatal("initial acquisition failed")
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- lockB.Acquire(ctx, time.Minute)
	}()

	// Give the waiter time to register and fail its first attempt.
	deadline := time.Now().Add(5 * time.Second)
	for store.watchers("lock") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never registered for notifications")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case err := <-acquired:
		t.Fatalf("Acquire returned %v while the lock was held", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := lockA.Release(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the lock handover")
	}
	if got := store.value("lock"); string(got) != "client-b" {
		t.Errorf("holder value = %q, want client-b", got)
	}
	if store.watchers("lock") != 0 {
		t.Error("notification registration leaked after Acquire returned")
	}
}

func TestAcquireTimesOut(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store)
	ctx := context.Background()

	if ok, _ := lock.TryAcquire(ctx, time.Minute); !ok {
		t.Fatal("initial acquisition failed")
	}

	waiterLock := newTestLock(t, clientView{store, "client-b"})

	err := waiterLock.Acquire(ctx, time.Minute,
		WithTimeout(20*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestAcquireAfterLeaseLapse(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store)
	ctx := context.Background()

	if ok, _ := lock.TryAcquire(ctx, time.Minute); !ok {
		t.Fatal("initial acquisition failed")
	}

	waiterLock := newTestLock(t, clientView{store, "client-b"})

	acquired := make(chan error, 1)
	go func() {
		acquired <- waiterLock.Acquire(ctx, time.Minute)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for store.watchers("lock") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never registered for notifications")
		}
		time.Sleep(time.Millisecond)
	}

	// The holder crashes and its lease lapses.
	store.expire("lock")

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for acquisition after the lease lapsed")
	}
}

func TestSessionIDDistinguishesHolders(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store, WithSessionID("sess-1"))
	ctx := context.Background()

	if ok, _ := lock.TryAcquire(ctx, time.Minute); !ok {
		t.Fatal("acquisition failed")
	}
	if got := store.value("lock"); string(got) != "client-a:sess-1" {
		t.Errorf("holder value = %q, want client-a:sess-1", got)
	}

	// Same client, different session: a distinct holder.
	other := newTestLock(t, store, WithSessionID("sess-2"))
	if ok, _ := other.TryAcquire(ctx, time.Minute); ok {
		t.Error("a different session acquired a held lock")
	}
}

func TestRenewal(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store)
	clk := clock.NewManual(time.Now())
	lock.clk = clk
	ctx := context.Background()

	ok, err := lock.TryAcquire(ctx, time.Minute, WithRenew(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("acquisition failed")
	}
	first, _ := lock.Token(ctx)

	// A second renewal request on the same lock must be refused.
	if _, err := lock.TryAcquire(
		ctx, time.Minute, WithRenew(10*time.Second),
	); !errors.Is(err, ErrRenewing) {
		t.Fatalf("err = %v, want ErrRenewing", err)
	}

	// Wait for the renewal timer to be armed before advancing.
	waitPending(t, clk)
	clk.Advance(10 * time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for {
		token, err := lock.Token(ctx)
		if err == nil && token.Compare(first) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the lease renewal")
		}
		time.Sleep(time.Millisecond)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRenewalFailureSurfacesThroughToken(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store)
	clk := clock.NewManual(time.Now())
	lock.clk = clk
	ctx := context.Background()

	if ok, _ := lock.TryAcquire(
		ctx, time.Minute, WithRenew(10*time.Second),
	); !ok {
		t.Fatal("acquisition failed")
	}

	// Another client takes the key while we are not looking.
	store.expire("lock")
	store.mu.Lock()
	store.entries["lock"] = fakeEntry{
		value:   []byte("client-b"),
		version: store.nextVersion(),
	}
	store.mu.Unlock()

	waitPending(t, clk)
	clk.Advance(10 * time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := lock.Token(ctx); errors.Is(err, ErrNoLock) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the renewal failure")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitPending(t *testing.T, clk *clock.Manual) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for clk.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a timer")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHolder(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store)
	ctx := context.Background()

	holder, held, err := lock.Holder(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if held || holder != "" {
		t.Errorf("Holder = %q, %v on a free lock", holder, held)
	}

	if ok, _ := lock.TryAcquire(ctx, time.Minute); !ok {
		t.Fatal("acquisition failed")
	}
	holder, held, err = lock.Holder(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !held || holder != "client-a" {
		t.Errorf("Holder = %q, %v, want client-a, true", holder, held)
	}
}

func TestObserve(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store)
	ctx := context.Background()

	if err := lock.ObserveStart(ctx); err != nil {
		t.Fatal(err)
	}
	defer lock.ObserveStop(ctx)

	changes, remove := lock.Observe()
	defer remove()

	if ok, _ := lock.TryAcquire(ctx, time.Minute); !ok {
		t.Fatal("acquisition failed")
	}

	select {
	case change := <-changes:
		if !change.Held || change.Holder != "client-a" {
			t.Errorf("change = %+v, want held by client-a", change)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the acquire change")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case change := <-changes:
		if change.Held {
			t.Errorf("change = %+v, want released", change)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the release change")
	}
}

func TestEdit(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store)
	ctx := context.Background()

	if _, err := store.Set(ctx, "counter", []byte("41")); err != nil {
		t.Fatal(err)
	}

	err := lock.Edit(ctx, "counter", time.Minute,
		func(_ context.Context, val []byte) ([]byte, error) {
			if string(val) != "41" {
				t.Errorf("edit saw %q, want 41", val)
			}
			return []byte("42"), nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	if got := store.value("counter"); string(got) != "42" {
		t.Errorf("counter = %q, want 42", got)
	}
	store.mu.Lock()
	ft := store.lastFencingToken
	store.mu.Unlock()
	if ft.IsZero() {
		t.Error("edit wrote without a fencing token")
	}

	// The lock itself is released again afterwards.
	if _, held, _ := lock.Holder(ctx); held {
		t.Error("lock still held after Edit")
	}
}

func TestEditDeletesOnEmptyResult(t *testing.T) {
	t.Parallel()

	store := newFakeStore("client-a")
	lock := newTestLock(t, store)
	ctx := context.Background()

	if _, err := store.Set(ctx, "flag", []byte("on")); err != nil {
		t.Fatal(err)
	}

	err := lock.Edit(ctx, "flag", time.Minute,
		func(context.Context, []byte) ([]byte, error) {
			return nil, nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	_, exists := store.entries["flag"]
	store.mu.Unlock()
	if exists {
		t.Error("key still exists after an empty edit result")
	}
}
