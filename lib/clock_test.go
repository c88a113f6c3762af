package lib

import (
	"testing"
	"time"
)

func TestClockFiresInTimestampOrder(t *testing.T) {
	clock := NewVirtualClock()

	var order []string
	clock.Schedule(30*time.Millisecond, func() { order = append(order, "c") })
	clock.Schedule(10*time.Millisecond, func() { order = append(order, "a") })
	clock.Schedule(20*time.Millisecond, func() { order = append(order, "b") })

	clock.Advance(50 * time.Millisecond)

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("fire order = %v, want [a b c]", order)
	}
}

func TestClockEqualDeadlinesFireInScheduleOrder(t *testing.T) {
	clock := NewVirtualClock()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		clock.Schedule(10*time.Millisecond, func() { order = append(order, i) })
	}
	clock.Advance(10 * time.Millisecond)

	for i, got := range order {
		if got != i {
			t.Fatalf("equal deadlines fired as %v, want schedule order", order)
		}
	}
}

func TestClockPartialAdvance(t *testing.T) {
	clock := NewVirtualClock()

	fired := false
	clock.Schedule(100*time.Millisecond, func() { fired = true })

	clock.Advance(99 * time.Millisecond)
	if fired {
		t.Error("deadline fired before its time")
	}
	clock.Advance(1 * time.Millisecond)
	if !fired {
		t.Error("deadline did not fire at its time")
	}
}

func TestClockCancelPreventsFiring(t *testing.T) {
	clock := NewVirtualClock()

	fired := false
	dl := clock.Schedule(10*time.Millisecond, func() { fired = true })
	dl.Cancel()

	clock.Advance(time.Second)
	if fired {
		t.Error("cancelled deadline fired")
	}
	if dl.Fired() {
		t.Error("cancelled deadline reports Fired")
	}
}

func TestClockCallbackMaySchedule(t *testing.T) {
	clock := NewVirtualClock()

	var times []time.Time
	var rearm func()
	count := 0
	rearm = func() {
		times = append(times, clock.Now())
		count++
		if count < 3 {
			clock.Schedule(10*time.Millisecond, rearm)
		}
	}
	clock.Schedule(10*time.Millisecond, rearm)

	// a single long advance must fire the rearmed deadlines too, each at
	// its own virtual timestamp
	clock.Advance(time.Second)

	if count != 3 {
		t.Fatalf("rearm chain fired %d times, want 3", count)
	}
	epoch := time.Unix(0, 0)
	for i, at := range times {
		want := epoch.Add(time.Duration(i+1) * 10 * time.Millisecond)
		if !at.Equal(want) {
			t.Errorf("firing %d at %v, want %v", i, at, want)
		}
	}
}

func TestClockNowAdvances(t *testing.T) {
	clock := NewVirtualClock()
	start := clock.Now()
	clock.Advance(42 * time.Millisecond)
	if got := clock.Now().Sub(start); got != 42*time.Millisecond {
		t.Errorf("Now advanced by %v, want 42ms", got)
	}
}
