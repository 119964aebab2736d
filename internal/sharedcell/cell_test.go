package sharedcell

import (
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	c := New(0)
	if got := c.Get(); got != 0 {
		t.Fatalf("Get() = %d, want 0", got)
	}
	c.Set(42)
	if got := c.Get(); got != 42 {
		t.Fatalf("Get() = %d, want 42", got)
	}
}

func TestWaitUntilWakesOnSet(t *testing.T) {
	c := New(false)
	done := make(chan struct{})

	go func() {
		c.WaitUntil(func(v bool) bool { return v })
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Set(true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntil did not return after Set")
	}
}

func TestWaitUntilTimeoutExpires(t *testing.T) {
	c := New(false)
	start := time.Now()
	_, ok := c.WaitUntilTimeout(func(v bool) bool { return v }, 30*time.Millisecond)
	if ok {
		t.Fatal("expected timeout, got ok=true")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
}

func TestWaitUntilTimeoutSatisfiedEarly(t *testing.T) {
	c := New(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Set(7)
	}()
	v, ok := c.WaitUntilTimeout(func(v int) bool { return v == 7 }, 2*time.Second)
	if !ok {
		t.Fatal("expected predicate satisfied before timeout")
	}
	if v != 7 {
		t.Fatalf("value = %d, want 7", v)
	}
}

func TestUpdate(t *testing.T) {
	c := New(1)
	c.Update(func(v int) int { return v + 1 })
	if got := c.Get(); got != 2 {
		t.Fatalf("Get() = %d, want 2", got)
	}
}
