package vm

import (
	"testing"
)

func TestHeapAllocateYoung(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(10, 10, nil)

	obj := heap.Allocate(classes.Object, nil)
	if !obj.IsYoung() {
		t.Error("fresh allocations should be young")
	}
	if obj.Class() != classes.Object {
		t.Error("wrong class on allocation")
	}
}

func TestHeapCollectionThresholds(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(3, 100, nil)

	if heap.ShouldCollectYoung() {
		t.Error("empty heap wants a collection")
	}
	for n := 0; n < 3; n++ {
		heap.Allocate(classes.Object, nil)
	}
	if !heap.ShouldCollectYoung() {
		t.Error("threshold crossed but no collection requested")
	}
}

func TestCollectYoungKeepsReachable(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(100, 100, nil)

	root := heap.AllocateValue(classes.String, &StringPayload{Value: "kept"})
	heap.AllocateValue(classes.String, &StringPayload{Value: "garbage"})

	roots := func(fn func(*Value)) { fn(&root) }
	heap.CollectYoung(roots)

	if heap.YoungCollections() != 1 {
		t.Fatalf("YoungCollections() = %d, want 1", heap.YoungCollections())
	}
	payload := ObjectFromValue(root).Payload().(*StringPayload)
	if payload.Value != "kept" {
		t.Errorf("root content = %q after collection", payload.Value)
	}
	if heap.young.objectCount() != 1 {
		t.Errorf("young space holds %d objects, want 1", heap.young.objectCount())
	}
}

func TestCollectYoungRewritesInteriorPointers(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(100, 100, nil)

	inner := heap.AllocateValue(classes.String, &StringPayload{Value: "inner"})
	outer := heap.AllocateValue(classes.Array, &ArrayPayload{Values: []Value{inner}})

	roots := func(fn func(*Value)) { fn(&outer) }
	heap.CollectYoung(roots)

	values := ObjectFromValue(outer).Payload().(*ArrayPayload).Values
	got := ObjectFromValue(values[0]).Payload().(*StringPayload)
	if got.Value != "inner" {
		t.Errorf("inner content = %q after collection", got.Value)
	}
}

func TestCollectYoungPromotes(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(100, 100, nil)

	root := heap.AllocateValue(classes.String, &StringPayload{Value: "old"})
	roots := func(fn func(*Value)) { fn(&root) }

	for n := 0; n < promotionAge; n++ {
		heap.CollectYoung(roots)
	}

	if !ObjectFromValue(root).IsMature() {
		t.Errorf("object still young after %d collections", promotionAge)
	}
	if heap.LiveMature() != 1 {
		t.Errorf("LiveMature() = %d, want 1", heap.LiveMature())
	}
}

func TestWriteBarrierMarksCard(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(100, 100, nil)

	// Age an array into the mature space, then store a young pointer
	// into it.
	root := heap.AllocateValue(classes.Array, &ArrayPayload{})
	roots := func(fn func(*Value)) { fn(&root) }
	for n := 0; n < promotionAge; n++ {
		heap.CollectYoung(roots)
	}
	mature := ObjectFromValue(root)
	if !mature.IsMature() {
		t.Fatal("array did not promote")
	}

	young := heap.AllocateValue(classes.String, &StringPayload{Value: "young"})
	heap.ArrayPush(mature, mature.Payload().(*ArrayPayload), young)

	// The young object is reachable only through the remembered set.
	heap.CollectYoung(func(fn func(*Value)) { fn(&root) })

	values := ObjectFromValue(root).Payload().(*ArrayPayload).Values
	got := ObjectFromValue(values[0]).Payload().(*StringPayload)
	if got.Value != "young" {
		t.Errorf("remembered object content = %q", got.Value)
	}
}

func TestCollectMatureDropsGarbage(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(100, 100, nil)

	kept := heap.AllocateValue(classes.String, &StringPayload{Value: "kept"})
	dead := heap.AllocateValue(classes.String, &StringPayload{Value: "dead"})
	roots := func(fn func(*Value)) { fn(&kept); fn(&dead) }
	for n := 0; n < promotionAge; n++ {
		heap.CollectYoung(roots)
	}
	if heap.LiveMature() != 2 {
		t.Fatalf("LiveMature() = %d, want 2", heap.LiveMature())
	}

	dead = Nil
	heap.CollectMature(func(fn func(*Value)) { fn(&kept); fn(&dead) })

	if heap.LiveMature() != 1 {
		t.Errorf("LiveMature() = %d after full collection, want 1", heap.LiveMature())
	}
	payload := ObjectFromValue(kept).Payload().(*StringPayload)
	if payload.Value != "kept" {
		t.Errorf("survivor content = %q", payload.Value)
	}
	if heap.MatureCollections() != 1 {
		t.Errorf("MatureCollections() = %d, want 1", heap.MatureCollections())
	}
}

type recordingResource struct {
	closed *[]string
	name   string
}

func (r *recordingResource) Kind() PayloadKind        { return KindFile }
func (r *recordingResource) EachPointer(func(*Value)) {}
func (r *recordingResource) Finalize() error {
	*r.closed = append(*r.closed, r.name)
	return nil
}

func TestCollectYoungFinalizesGarbage(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(100, 100, nil)

	var closed []string
	kept := heap.AllocateValue(classes.File, &recordingResource{closed: &closed, name: "kept"})
	heap.AllocateValue(classes.File, &recordingResource{closed: &closed, name: "dead"})

	heap.CollectYoung(func(fn func(*Value)) { fn(&kept) })

	if len(closed) != 1 || closed[0] != "dead" {
		t.Errorf("finalized %v, want [dead]", closed)
	}
}

func TestFinalizeAll(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(100, 100, nil)

	var closed []string
	heap.AllocateValue(classes.File, &recordingResource{closed: &closed, name: "a"})
	heap.AllocateValue(classes.File, &recordingResource{closed: &closed, name: "b"})

	heap.FinalizeAll()

	if len(closed) != 2 {
		t.Errorf("finalized %d resources, want 2", len(closed))
	}
}
