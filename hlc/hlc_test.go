package hlc_test

import (
	"fmt"
	"testing"
	"time"

	"pkt.systems/mqsession/hlc"
	"pkt.systems/mqsession/internal/clock"
)

func TestStringParseRoundTrip(t *testing.T) {
	t.Parallel()

	manual := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	source := hlc.NewSource(hlc.WithClock(manual))

	v, err := source.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	parsed, err := hlc.Parse(v.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Compare(v) != 0 {
		t.Fatalf("round trip mismatch: %v vs %v", parsed, v)
	}
	if !parsed.Timestamp().Equal(v.Timestamp()) {
		t.Fatalf("timestamp mismatch: %v vs %v", parsed.Timestamp(), v.Timestamp())
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "123", "a:b:c", "1:x:node"} {
		if _, err := hlc.Parse(bad); err == nil {
			t.Fatalf("parse(%q) succeeded", bad)
		}
	}
}

func TestUpdateAdvancesPastRemote(t *testing.T) {
	t.Parallel()

	manual := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	source := hlc.NewSource(hlc.WithClock(manual))

	future := manual.Now().Add(10 * time.Second)
	remote, err := hlc.Parse(
		fmt.Sprintf("%015d:00003:remote-node", future.UnixMilli()))
	if err != nil {
		t.Fatalf("parse remote: %v", err)
	}

	got, err := source.Update(remote)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Compare(remote) <= 0 {
		t.Fatalf("updated clock %v not after remote %v", got, remote)
	}
	if got.Counter() != remote.Counter()+1 {
		t.Fatalf("counter = %d, want %d", got.Counter(), remote.Counter()+1)
	}
}

func TestUpdateRejectsExcessiveDrift(t *testing.T) {
	t.Parallel()

	manual := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	source := hlc.NewSource(
		hlc.WithClock(manual),
		hlc.WithMaxClockDrift(time.Second),
	)

	future := manual.Now().Add(time.Hour)
	remote, err := hlc.Parse(
		fmt.Sprintf("%015d:00000:remote-node", future.UnixMilli()))
	if err != nil {
		t.Fatalf("parse remote: %v", err)
	}

	if _, err := source.Update(remote); err == nil {
		t.Fatal("update accepted remote with excessive drift")
	}
}

func TestGetIsMonotonic(t *testing.T) {
	t.Parallel()

	manual := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	source := hlc.NewSource(hlc.WithClock(manual))

	prev, err := source.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			manual.Advance(time.Millisecond)
		}
		next, err := source.Get()
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if next.Compare(prev) < 0 {
			t.Fatalf("clock went backwards: %v then %v", prev, next)
		}
		prev = next
	}
}

func TestCompareTotalOrder(t *testing.T) {
	t.Parallel()

	a, _ := hlc.Parse("000000000001000:00000:node-a")
	b, _ := hlc.Parse("000000000001000:00000:node-b")
	c, _ := hlc.Parse("000000000001000:00001:node-a")
	d, _ := hlc.Parse("000000000002000:00000:node-a")

	if a.Compare(b) >= 0 {
		t.Fatal("node ID tiebreak failed")
	}
	if c.Compare(a) <= 0 {
		t.Fatal("counter comparison failed")
	}
	if d.Compare(c) <= 0 {
		t.Fatal("timestamp comparison failed")
	}
	if a.Compare(a) != 0 {
		t.Fatal("self comparison not zero")
	}
}
