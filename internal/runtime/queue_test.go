package runtime

import (
	"testing"
	"time"
)

func TestTaskQueue_PushPop(t *testing.T) {
	tq := NewTaskQueue()
	tq.Push(Task{})
	task, ok := tq.Pop()
	if !ok {
		t.Fatalf("expected a task")
	}
	_ = task
	if tq.Len() != 0 {
		t.Fatalf("expected empty queue after pop, got len %d", tq.Len())
	}
}

func TestTaskQueue_PopBlocksUntilPush(t *testing.T) {
	tq := NewTaskQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := tq.Pop()
		done <- ok
	}()

	select {
	case <-done:
		t.Fatalf("Pop returned before any push")
	case <-time.After(50 * time.Millisecond):
	}

	tq.Push(Task{})
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("expected ok=true")
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop did not wake on push")
	}
}

func TestTaskQueue_StopWakesBlockedPop(t *testing.T) {
	tq := NewTaskQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := tq.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	tq.Stop()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected ok=false on stopped empty queue")
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop did not wake on stop")
	}
}

func TestTaskQueue_StopDrainsRemainingTasks(t *testing.T) {
	tq := NewTaskQueue()
	tq.Push(Task{})
	tq.Push(Task{})
	tq.Stop()

	if _, ok := tq.Pop(); !ok {
		t.Fatalf("expected first queued task to still be popped")
	}
	if _, ok := tq.Pop(); !ok {
		t.Fatalf("expected second queued task to still be popped")
	}
	if _, ok := tq.Pop(); ok {
		t.Fatalf("expected false once drained")
	}
}

func TestTaskQueue_PushAfterStopIsNoop(t *testing.T) {
	tq := NewTaskQueue()
	tq.Stop()
	tq.Push(Task{})
	if tq.Len() != 0 {
		t.Fatalf("expected push after stop to be dropped, got len %d", tq.Len())
	}
}
