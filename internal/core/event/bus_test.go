package event

import (
	"sync"
	"testing"

	"github.com/butane/engine/internal/core/ecs"
)

func TestEventsVisibleAfterSwap(t *testing.T) {
	b := NewBus()
	var got []ecs.EntityID
	Subscribe(b, func(e UnitGraduated) { got = append(got, e.Unit) })

	Emit(b, UnitGraduated{Unit: 7})
	b.DispatchAll()
	if len(got) != 0 {
		t.Fatalf("event delivered in the frame it was emitted: %v", got)
	}
	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("got %v, want [7]", got)
	}
	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 {
		t.Fatalf("event delivered twice: %v", got)
	}
}

func TestConcurrentEmit(t *testing.T) {
	b := NewBus()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				Emit(b, UnitSpawned{Unit: ecs.NewEntityID(uint32(i+1), 0)})
			}
		}()
	}
	wg.Wait()
	if n := b.Pending(); n != 800 {
		t.Fatalf("Pending = %d, want 800", n)
	}
	n := 0
	Subscribe(b, func(UnitSpawned) { n++ })
	b.SwapBuffers()
	b.DispatchAll()
	if n != 800 {
		t.Fatalf("dispatched %d, want 800", n)
	}
}
