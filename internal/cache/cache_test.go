package cache

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestFingerprintStability(t *testing.T) {
	k := KeyFields{Temperature: 0.7, MaxNewTokens: 256}
	a := Fingerprint("chat", []byte(`{"prompt":"hello"}`), k)
	b := Fingerprint("chat", []byte(`{"prompt":"hello"}`), k)
	if a != b {
		t.Error("identical requests should produce identical fingerprints")
	}
}

func TestFingerprintNormalizesJSONWhitespace(t *testing.T) {
	k := KeyFields{}
	compact := Fingerprint("chat", []byte(`{"prompt":"hi"}`), k)
	spaced := Fingerprint("chat", []byte(" {\n  \"prompt\": \"hi\"\n} "), k)
	if compact != spaced {
		t.Error("whitespace-only JSON differences should not change the fingerprint")
	}
}

func TestFingerprintDiscriminates(t *testing.T) {
	base := Fingerprint("chat", []byte(`{"p":1}`), KeyFields{})
	cases := map[string]string{
		"family":     Fingerprint("embeddings", []byte(`{"p":1}`), KeyFields{}),
		"input":      Fingerprint("chat", []byte(`{"p":2}`), KeyFields{}),
		"temp":       Fingerprint("chat", []byte(`{"p":1}`), KeyFields{Temperature: 0.9}),
		"max tokens": Fingerprint("chat", []byte(`{"p":1}`), KeyFields{MaxNewTokens: 64}),
		"safety":     Fingerprint("chat", []byte(`{"p":1}`), KeyFields{SafetyFilter: true}),
		"lang":       Fingerprint("chat", []byte(`{"p":1}`), KeyFields{Multilingual: true}),
	}
	for name, fp := range cases {
		if fp == base {
			t.Errorf("changing %s should change the fingerprint", name)
		}
	}
}

func TestGetPutAndExpiry(t *testing.T) {
	c := New(10, 0)
	defer c.Stop()

	if _, ok := c.Get("missing"); ok {
		t.Error("empty cache should miss")
	}

	c.Put("k1", json.RawMessage(`{"answer":42}`), 50*time.Millisecond)
	if got, ok := c.Get("k1"); !ok || string(got) != `{"answer":42}` {
		t.Errorf("got %s, ok=%v; want stored payload", got, ok)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.Get("k1"); ok {
		t.Error("entry should have expired")
	}
	if c.Len() != 0 {
		t.Error("expired entry should be removed on Get")
	}
}

func TestPutLastWriteWins(t *testing.T) {
	c := New(10, 0)
	defer c.Stop()

	c.Put("k", json.RawMessage(`"first"`), time.Minute)
	c.Put("k", json.RawMessage(`"second"`), time.Minute)
	got, ok := c.Get("k")
	if !ok || string(got) != `"second"` {
		t.Errorf("got %s, want second write", got)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := New(3, 0)
	defer c.Stop()

	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("k%d", i), json.RawMessage(`{}`), time.Minute)
		time.Sleep(2 * time.Millisecond)
	}
	c.Put("k3", json.RawMessage(`{}`), time.Minute)

	if c.Len() != 3 {
		t.Errorf("len = %d, want capacity 3", c.Len())
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("k3"); !ok {
		t.Error("newest entry should survive")
	}
	if s := c.Snapshot(); s.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", s.Evictions)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	defer c.Stop()

	c.Put("short", json.RawMessage(`{}`), 5*time.Millisecond)
	c.Put("long", json.RawMessage(`{}`), time.Minute)

	time.Sleep(50 * time.Millisecond)
	if c.Len() != 1 {
		t.Errorf("len = %d after sweep, want 1", c.Len())
	}
}

func TestClear(t *testing.T) {
	c := New(10, 0)
	defer c.Stop()

	c.Put("a", json.RawMessage(`{}`), time.Minute)
	c.Put("b", json.RawMessage(`{}`), time.Minute)
	c.Get("a")
	c.Get("nope")
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len = %d after Clear, want 0", c.Len())
	}
	// Counters reset with the entries so hit rates refer to the empty cache.
	s := c.Snapshot()
	if s.Hits != 0 || s.Misses != 0 || s.Evictions != 0 {
		t.Errorf("snapshot after Clear = %+v, want zeroed counters", s)
	}
}

func TestSnapshotCounters(t *testing.T) {
	c := New(10, 0)
	defer c.Stop()

	c.Put("k", json.RawMessage(`{}`), time.Minute)
	c.Get("k")
	c.Get("k")
	c.Get("nope")

	s := c.Snapshot()
	if s.Hits != 2 || s.Misses != 1 || s.Entries != 1 {
		t.Errorf("snapshot = %+v, want hits=2 misses=1 entries=1", s)
	}
}
