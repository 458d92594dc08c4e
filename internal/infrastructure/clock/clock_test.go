package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("fired %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timer %q did not fire", want)
	}
}

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	c := NewFake(epoch)
	fired := make(chan string, 4)

	c.AfterFunc(time.Second, func() { fired <- "a" })
	c.AfterFunc(3*time.Second, func() { fired <- "b" })

	if c.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", c.Pending())
	}

	c.Advance(time.Second)
	waitFor(t, fired, "a")
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}

	c.Advance(2 * time.Second)
	waitFor(t, fired, "b")

	if got := c.Now(); !got.Equal(epoch.Add(3 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, epoch.Add(3*time.Second))
	}
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(epoch)
	fired := make(chan string, 1)

	timer := c.AfterFunc(time.Second, func() { fired <- "x" })
	if !timer.Stop() {
		t.Fatal("Stop() = false for pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true")
	}

	c.Advance(time.Minute)
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFake_ZeroDelayFiresImmediately(t *testing.T) {
	c := NewFake(epoch)
	fired := make(chan string, 1)

	timer := c.AfterFunc(0, func() { fired <- "now" })
	waitFor(t, fired, "now")
	if timer.Stop() {
		t.Error("Stop() after firing = true")
	}
}

func TestReal_Now(t *testing.T) {
	now := New().Now()
	if now.Location() != time.UTC {
		t.Errorf("Now() location = %v, want UTC", now.Location())
	}
}
