package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeSleepAdvances(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if err := f.Sleep(context.Background(), 8*time.Second); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if err := f.Sleep(context.Background(), 0); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}

	if got := f.Now(); !got.Equal(start.Add(8 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(8*time.Second))
	}
	sleeps := f.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 8*time.Second || sleeps[1] != 0 {
		t.Errorf("Sleeps() = %v, want [8s 0s]", sleeps)
	}
}

func TestFakeSleepCancelled(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.Sleep(ctx, time.Second); err == nil {
		t.Error("Sleep() on cancelled context should return an error")
	}
	if len(f.Sleeps()) != 0 {
		t.Error("cancelled Sleep() should not be recorded")
	}
}

func TestRealSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Real().Sleep(ctx, time.Hour); err == nil {
		t.Error("Sleep() on cancelled context should return an error")
	}
}
