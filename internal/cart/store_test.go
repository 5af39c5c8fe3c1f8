package cart

import (
	"sync"
	"testing"
)

func TestStore_DispatchNotifiesOnChange(t *testing.T) {
	store := NewStore(nil)
	var calls int
	var last *State
	store.Subscribe(func(s *State) {
		calls++
		last = s
	})

	first := store.Dispatch(AddElement{ID: "/a/"})
	store.Dispatch(AddElement{ID: "/a/"}) // no-op

	if calls != 1 {
		t.Errorf("listener calls = %d, want 1", calls)
	}
	if last != first || store.State() != first {
		t.Error("listener and State() should see the dispatched state")
	}
}

func TestStore_Unsubscribe(t *testing.T) {
	store := NewStore(nil)
	var calls int
	unsubscribe := store.Subscribe(func(*State) { calls++ })

	store.Dispatch(AddElement{ID: "/a/"})
	unsubscribe()
	store.Dispatch(AddElement{ID: "/b/"})

	if calls != 1 {
		t.Errorf("listener calls = %d, want 1", calls)
	}
}

func TestStore_IndependentInstances(t *testing.T) {
	a := NewStore(nil)
	b := NewStore(nil)

	a.Dispatch(AddElement{ID: "/a/"})

	if len(b.State().Elements) != 0 {
		t.Error("stores share state")
	}
}

func TestStore_ConcurrentDispatch(t *testing.T) {
	store := NewStore(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Dispatch(AddElement{ID: string(rune('A' + i%26))})
		}(i)
	}
	wg.Wait()

	if got := len(store.State().Elements); got != 26 {
		t.Errorf("len(Elements) = %d, want 26", got)
	}
}
