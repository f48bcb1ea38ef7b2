package breaker

import (
	"testing"
	"time"
)

func TestCanAttempt_UnknownProviderDefaultsClosed(t *testing.T) {
	b := New(Config{})
	if !b.CanAttempt("unseen") {
		t.Error("expected an unseen provider to be admissible (closed by default)")
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	b := New(Config{Threshold: 3, Cooldown: time.Minute})
	for i := 0; i < 2; i++ {
		b.RecordFailure("p")
	}
	if b.State("p") != "closed" {
		t.Fatalf("state = %s, want closed before threshold", b.State("p"))
	}
	b.RecordFailure("p")
	if b.State("p") != "open" {
		t.Fatalf("state = %s, want open at threshold", b.State("p"))
	}
	if b.CanAttempt("p") {
		t.Error("expected CanAttempt to reject while open and within cooldown")
	}
}

func TestHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	b := New(Config{Threshold: 1, Cooldown: 10 * time.Millisecond})
	b.RecordFailure("p")
	if b.State("p") != "open" {
		t.Fatalf("state = %s, want open", b.State("p"))
	}

	time.Sleep(15 * time.Millisecond)

	if !b.CanAttempt("p") {
		t.Fatal("expected first attempt after cooldown to be admitted as a half-open probe")
	}
	if b.State("p") != "half_open" {
		t.Fatalf("state = %s, want half_open", b.State("p"))
	}
	if b.CanAttempt("p") {
		t.Error("expected second concurrent attempt to be rejected while a probe is in flight")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b := New(Config{Threshold: 1, Cooldown: 10 * time.Millisecond})
	b.RecordFailure("p")
	time.Sleep(15 * time.Millisecond)
	b.CanAttempt("p") // admits the probe, transitions to half_open

	b.RecordSuccess("p")
	if b.State("p") != "closed" {
		t.Fatalf("state = %s, want closed after successful probe", b.State("p"))
	}
	if !b.CanAttempt("p") {
		t.Error("expected closed breaker to admit requests")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{Threshold: 1, Cooldown: 10 * time.Millisecond})
	b.RecordFailure("p")
	time.Sleep(15 * time.Millisecond)
	b.CanAttempt("p") // admits the probe, transitions to half_open

	b.RecordFailure("p")
	if b.State("p") != "open" {
		t.Fatalf("state = %s, want open after failed probe", b.State("p"))
	}
	if b.CanAttempt("p") {
		t.Error("expected breaker to reject immediately after a failed probe")
	}
}

func TestFailureTimestampsPrunedOutsideCooldown(t *testing.T) {
	b := New(Config{Threshold: 2, Cooldown: 20 * time.Millisecond})
	b.RecordFailure("p")
	time.Sleep(25 * time.Millisecond)
	b.RecordFailure("p")

	// The first failure should have been pruned, so this is only the first
	// failure within the live window — not enough to trip threshold=2.
	if b.State("p") != "closed" {
		t.Fatalf("state = %s, want closed (stale failure pruned)", b.State("p"))
	}
}
