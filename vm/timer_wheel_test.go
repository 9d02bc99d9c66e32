package vm

import (
	"testing"
	"time"
)

func TestTimerWheelWakesExpired(t *testing.T) {
	woken := make(chan *Process, 1)
	wheel := NewTimerWheel(func(p *Process) { woken <- p })
	go wheel.Run()
	defer wheel.Terminate()

	p := testProcess(1)
	p.SetStatus(StatusSleeping)
	token := p.NextTimerToken()
	wheel.Schedule(p, time.Millisecond, token, StatusSleeping)

	select {
	case got := <-woken:
		if got != p {
			t.Error("wrong process woken")
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	if p.Status() != StatusRunnable {
		t.Errorf("status = %s, want runnable", p.Status())
	}
	if !p.TookTimeout() {
		t.Error("timed-out flag not set")
	}
}

func TestTimerWheelIgnoresStaleToken(t *testing.T) {
	woken := make(chan *Process, 1)
	wheel := NewTimerWheel(func(p *Process) { woken <- p })
	go wheel.Run()
	defer wheel.Terminate()

	p := testProcess(1)
	p.SetStatus(StatusWaitingTimer)
	token := p.NextTimerToken()
	wheel.Schedule(p, time.Millisecond, token, StatusWaitingTimer)

	// A message wake-up invalidates the armed timer.
	p.NextTimerToken()
	p.SetStatus(StatusRunnable)

	select {
	case <-woken:
		t.Error("stale timer entry woke the process")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerWheelLosesStatusRace(t *testing.T) {
	woken := make(chan *Process, 1)
	wheel := NewTimerWheel(func(p *Process) { woken <- p })
	go wheel.Run()
	defer wheel.Terminate()

	// Same token, but the process already left the waiting state; the
	// CAS must fail and the entry must be dropped.
	p := testProcess(1)
	p.SetStatus(StatusWaitingTimer)
	token := p.NextTimerToken()
	p.SetStatus(StatusRunning)
	wheel.Schedule(p, time.Millisecond, token, StatusWaitingTimer)

	select {
	case <-woken:
		t.Error("the wheel rescheduled a running process")
	case <-time.After(50 * time.Millisecond):
	}
	if p.TookTimeout() {
		t.Error("timed-out flag set despite losing the race")
	}
}

func TestTimerWheelOrdersDeadlines(t *testing.T) {
	woken := make(chan *Process, 2)
	wheel := NewTimerWheel(func(p *Process) { woken <- p })
	go wheel.Run()
	defer wheel.Terminate()

	late := testProcess(1)
	late.SetStatus(StatusSleeping)
	wheel.Schedule(late, 30*time.Millisecond, late.NextTimerToken(), StatusSleeping)

	early := testProcess(2)
	early.SetStatus(StatusSleeping)
	wheel.Schedule(early, time.Millisecond, early.NextTimerToken(), StatusSleeping)

	first := <-woken
	if first != early {
		t.Error("later deadline fired first")
	}
	<-woken
}
