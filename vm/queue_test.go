package vm

import (
	"testing"
)

func testProcess(id uint64) *Process {
	code := NewCompiledCode("test", "test.inko", 1, nil)
	frame := NewFrame(code, nil, NewBinding(nil, 0), Nil)
	return NewProcess(id, NewHeap(100, 100, nil), frame)
}

func TestQueueInternalFIFO(t *testing.T) {
	q := NewQueue()
	a, b := testProcess(1), testProcess(2)

	q.PushInternal(a)
	q.PushInternal(b)

	if got, ok := q.PopInternal(); !ok || got != a {
		t.Error("first pop should return the first push")
	}
	if got, ok := q.PopInternal(); !ok || got != b {
		t.Error("second pop should return the second push")
	}
	if _, ok := q.PopInternal(); ok {
		t.Error("empty queue produced a job")
	}
}

func TestQueueMoveExternalToInternal(t *testing.T) {
	q := NewQueue()
	a, b := testProcess(1), testProcess(2)

	q.PushExternal(a)
	q.PushExternal(b)
	if q.HasInternal() {
		t.Error("external pushes landed in the internal half")
	}

	if moved := q.MoveExternalToInternal(); moved != 2 {
		t.Fatalf("moved %d jobs, want 2", moved)
	}
	if q.HasExternal() {
		t.Error("external half not drained")
	}
	if got, _ := q.PopInternal(); got != a {
		t.Error("moved jobs lost their order")
	}
}

func TestQueueStealTakesHalf(t *testing.T) {
	victim := NewQueue()
	thief := NewQueue()

	procs := make([]*Process, 4)
	for n := range procs {
		procs[n] = testProcess(uint64(n))
		victim.PushExternal(procs[n])
	}

	if taken := victim.StealInto(thief); taken != 2 {
		t.Fatalf("stole %d jobs, want 2", taken)
	}
	if victim.Len() != 2 {
		t.Errorf("victim keeps %d jobs, want 2", victim.Len())
	}
	if !thief.HasInternal() {
		t.Error("thief has no work")
	}
}

func TestQueueStealSkipsPinned(t *testing.T) {
	victim := NewQueue()
	thief := NewQueue()

	pinned := testProcess(1)
	pinned.SetPinned(true)
	victim.PushExternal(pinned)
	victim.PushExternal(testProcess(2))

	if taken := victim.StealInto(thief); taken != 1 {
		t.Fatalf("stole %d jobs, want 1", taken)
	}
	got, _ := thief.PopInternal()
	if got.Pinned() {
		t.Error("a pinned process was stolen")
	}
}

func TestQueueStealFromEmpty(t *testing.T) {
	if taken := NewQueue().StealInto(NewQueue()); taken != 0 {
		t.Errorf("stole %d jobs from an empty queue", taken)
	}
}
