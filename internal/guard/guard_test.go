package guard

import (
	"context"
	"reflect"
	"sync"
	"testing"
)

func TestTryConsume_ReturnsSnapshotOnce(t *testing.T) {
	g := New()
	snapshot := map[string]any{"rules": []any{1, 2}}
	g.Arm("group:5", snapshot)

	got, ok := g.TryConsume("group:5")
	if !ok {
		t.Fatal("expected armed key to be consumed")
	}
	if !reflect.DeepEqual(got, snapshot) {
		t.Errorf("expected %v, got %v", snapshot, got)
	}

	if _, ok := g.TryConsume("group:5"); ok {
		t.Error("expected NotArmed on second consume")
	}
}

func TestTryConsume_NotArmed(t *testing.T) {
	g := New()
	if v, ok := g.TryConsume("post:1"); ok || v != nil {
		t.Errorf("expected (nil, false), got (%v, %v)", v, ok)
	}
}

func TestArm_LastWriteWins(t *testing.T) {
	g := New()
	g.Arm("k", "first")
	g.Arm("k", "second")

	got, _ := g.TryConsume("k")
	if got != "second" {
		t.Errorf("expected second snapshot, got %v", got)
	}
}

func TestArmOnce_KeepsFirstSnapshot(t *testing.T) {
	g := New()
	if !g.ArmOnce("k", "first") {
		t.Fatal("expected first ArmOnce to store")
	}
	if g.ArmOnce("k", "second") {
		t.Error("expected re-entrant ArmOnce to be a no-op")
	}

	got, _ := g.TryConsume("k")
	if got != "first" {
		t.Errorf("expected first snapshot, got %v", got)
	}
	if !g.ArmOnce("k", "third") {
		t.Error("expected ArmOnce to work again after consume")
	}
}

func TestState_Transitions(t *testing.T) {
	g := New()
	if g.State("k") != Idle {
		t.Fatal("expected idle before arm")
	}
	g.Arm("k", nil)
	if g.State("k") != Armed {
		t.Fatal("expected armed after arm")
	}
	g.TryConsume("k")
	if g.State("k") != Idle {
		t.Fatal("expected idle after consume")
	}
}

func TestArm_NilSnapshotStillArmed(t *testing.T) {
	g := New()
	g.Arm("k", nil)
	if _, ok := g.TryConsume("k"); !ok {
		t.Error("expected nil snapshot to count as armed")
	}
}

func TestShouldSuppressBulkDuplicate_OneShot(t *testing.T) {
	g := New()
	if g.ShouldSuppressBulkDuplicate("delete:activity") {
		t.Fatal("expected no suppression before MarkBulk")
	}

	g.MarkBulk("delete:activity")
	if !g.ShouldSuppressBulkDuplicate("delete:activity") {
		t.Fatal("expected suppression after MarkBulk")
	}
	if g.ShouldSuppressBulkDuplicate("delete:activity") {
		t.Error("expected flag to be cleared after the first check")
	}
}

func TestFirstEmit(t *testing.T) {
	g := New()
	if !g.FirstEmit("user:3:login") {
		t.Fatal("expected first emit to be true")
	}
	if g.FirstEmit("user:3:login") {
		t.Error("expected second emit to be false")
	}
	if !g.FirstEmit("user:4:login") {
		t.Error("expected distinct key to be independent")
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	g := New()
	g.Arm("a", 1)
	g.MarkBulk("b")
	g.FirstEmit("c")

	g.Reset()

	if g.State("a") != Idle {
		t.Error("expected armed key cleared")
	}
	if g.ShouldSuppressBulkDuplicate("b") {
		t.Error("expected bulk flag cleared")
	}
	if !g.FirstEmit("c") {
		t.Error("expected emitted set cleared")
	}
}

func TestGuardIsolation_SameKeyDifferentOperations(t *testing.T) {
	ctx1, op1 := Begin(context.Background())
	ctx2, op2 := Begin(context.Background())
	defer op1.End()
	defer op2.End()

	GuardFrom(ctx1).Arm("k", "op1")
	GuardFrom(ctx1).MarkBulk("bulk")

	if _, ok := GuardFrom(ctx2).TryConsume("k"); ok {
		t.Error("second operation observed the first one's armed key")
	}
	if GuardFrom(ctx2).ShouldSuppressBulkDuplicate("bulk") {
		t.Error("second operation observed the first one's bulk flag")
	}
	if got, ok := GuardFrom(ctx1).TryConsume("k"); !ok || got != "op1" {
		t.Errorf("first operation lost its state: %v %v", got, ok)
	}
	if op1.ID == op2.ID {
		t.Error("expected distinct operation ids")
	}
}

func TestEnd_DropsAbandonedState(t *testing.T) {
	ctx, op := Begin(context.Background())
	g := GuardFrom(ctx)
	g.Arm("post:9", "before")
	g.MarkBulk("bulk")

	if got := g.Pending(); !reflect.DeepEqual(got, []string{"post:9"}) {
		t.Fatalf("expected pending post:9, got %v", got)
	}

	op.End()

	if g.State("post:9") != Idle {
		t.Error("expected abandoned key reset at operation end")
	}
	if g.ShouldSuppressBulkDuplicate("bulk") {
		t.Error("expected bulk flag reset at operation end")
	}
}

func TestGuardFrom_WithoutOperation(t *testing.T) {
	a := GuardFrom(context.Background())
	b := GuardFrom(context.Background())
	a.Arm("k", 1)
	if _, ok := b.TryConsume("k"); ok {
		t.Error("guards without an operation must not share state")
	}
}

func TestGuard_ConcurrentUse(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Arm("k", 1)
			g.TryConsume("k")
			g.FirstEmit("e")
		}()
	}
	wg.Wait()
	if g.FirstEmit("e") {
		t.Error("expected e to be emitted already")
	}
}
