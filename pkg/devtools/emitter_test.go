package devtools

import (
	"testing"
	"time"

	"github.com/ricochet1k/driftwire/pkg/events"
)

func ev(id string) events.Event {
	return events.Event{ID: id, Type: events.EventTypeTickStart}
}

func TestEmitter_FlushOnSize(t *testing.T) {
	e := NewEmitter(2, time.Hour)
	defer e.Close()
	r := e.Subscribe(4)

	e.Emit(ev("a"))
	select {
	case b := <-r.C:
		t.Fatalf("batch flushed below size threshold: %v", b)
	case <-time.After(20 * time.Millisecond):
	}

	e.Emit(ev("b"))
	select {
	case b := <-r.C:
		if len(b) != 2 || b[0].ID != "a" || b[1].ID != "b" {
			t.Errorf("unexpected batch: %+v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch never flushed at max size")
	}
}

func TestEmitter_FlushOnInterval(t *testing.T) {
	e := NewEmitter(100, 10*time.Millisecond)
	defer e.Close()
	r := e.Subscribe(4)

	e.Emit(ev("a"))
	select {
	case b := <-r.C:
		if len(b) != 1 || b[0].ID != "a" {
			t.Errorf("unexpected batch: %+v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interval flush never happened")
	}
}

func TestEmitter_ManualFlush(t *testing.T) {
	e := NewEmitter(100, time.Hour)
	defer e.Close()
	r := e.Subscribe(4)

	e.Emit(ev("a"))
	e.Flush()
	select {
	case b := <-r.C:
		if len(b) != 1 {
			t.Errorf("unexpected batch: %+v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manual flush delivered nothing")
	}

	// flushing an empty buffer delivers nothing
	e.Flush()
	select {
	case b := <-r.C:
		t.Errorf("empty flush produced a batch: %v", b)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEmitter_ClosedReceiverIsPruned(t *testing.T) {
	e := NewEmitter(1, time.Hour)
	defer e.Close()

	dead := e.Subscribe(1)
	alive := e.Subscribe(4)
	dead.Close()

	e.Emit(ev("a"))
	select {
	case b := <-alive.C:
		if len(b) != 1 {
			t.Errorf("unexpected batch: %+v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("surviving receiver starved")
	}

	// the dead receiver's channel is closed by the prune
	select {
	case _, ok := <-dead.C:
		if ok {
			t.Error("expected closed channel for pruned receiver")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pruned receiver channel never closed")
	}
}

func TestEmitter_CloseFlushesAndTerminates(t *testing.T) {
	e := NewEmitter(100, time.Hour)
	r := e.Subscribe(4)

	e.Emit(ev("a"))
	e.Close()

	b, ok := <-r.C
	if !ok {
		t.Fatal("expected the final batch before close")
	}
	if len(b) != 1 || b[0].ID != "a" {
		t.Errorf("unexpected final batch: %+v", b)
	}
	if _, ok := <-r.C; ok {
		t.Error("channel not closed after Close")
	}

	// emits after Close are dropped; a late Subscribe gets a closed channel
	e.Emit(ev("b"))
	late := e.Subscribe(1)
	if _, ok := <-late.C; ok {
		t.Error("late subscriber channel not closed")
	}
}
