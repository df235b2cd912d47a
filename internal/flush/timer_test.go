package flush

import (
	"testing"
	"time"
)

func TestDisabledTimerNeverFires(t *testing.T) {
	tm := New(50 * time.Millisecond)
	select {
	case <-tm.Chan():
		t.Fatal("disabled timer fired")
	case <-time.After(75 * time.Millisecond):
	}
}

func TestEnableFiresAtBase(t *testing.T) {
	tm := New(20 * time.Millisecond)
	start := time.Now()
	tm.Enable()
	<-tm.Chan()
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("fired too early: %v", elapsed)
	}
}

func TestFireForcesImmediate(t *testing.T) {
	tm := New(time.Second)
	tm.Enable()
	tm.Fire()
	select {
	case <-tm.Chan():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Fire did not force an immediate timeout")
	}
}

func TestAdjustOnlyShrinks(t *testing.T) {
	tm := New(time.Second)
	tm.Enable()
	tm.Adjust(time.Second, 30*time.Millisecond)
	select {
	case <-tm.Chan():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("adjusted timer did not fire early")
	}
}

func TestAdjustNeverWidens(t *testing.T) {
	tm := New(200 * time.Millisecond)
	tm.Enable()
	tm.Adjust(200*time.Millisecond, 20*time.Millisecond) // shrink
	tm.Adjust(200*time.Millisecond, 150*time.Millisecond) // attempt to widen, must be ignored
	select {
	case <-tm.Chan():
	case <-time.After(60 * time.Millisecond):
		t.Fatal("widening Adjust call overrode the shrunk fire time")
	}
}

func TestDisableStopsPendingFire(t *testing.T) {
	tm := New(20 * time.Millisecond)
	tm.Enable()
	tm.Disable()
	select {
	case <-tm.Chan():
		t.Fatal("disabled timer still fired")
	case <-time.After(40 * time.Millisecond):
	}
}

func TestFireOnDisabledIsNoop(t *testing.T) {
	tm := New(time.Second)
	tm.Fire()
	select {
	case <-tm.Chan():
		t.Fatal("Fire armed a disabled timer")
	case <-time.After(30 * time.Millisecond):
	}
}
