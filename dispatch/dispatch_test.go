package dispatch

import (
	"sync"
	"testing"
)

func TestRunPreservesPostingOrder(t *testing.T) {
	q := NewQueue(nil)
	var got []int
	for i := 0; i < 5; i++ {
		n := i
		q.Post(func(freeOnly bool) {
			if freeOnly {
				t.Error("task ran free-only on a live queue")
			}
			got = append(got, n)
		})
	}
	if ran := q.Run(); ran != 5 {
		t.Fatalf("Run = %d, want 5", ran)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if q.Pending() != 0 {
		t.Fatalf("Pending after Run = %d", q.Pending())
	}
}

func TestPostDuringRunDefersToNextDrain(t *testing.T) {
	q := NewQueue(nil)
	nested := false
	q.Post(func(bool) {
		q.Post(func(bool) { nested = true })
	})
	if ran := q.Run(); ran != 1 {
		t.Fatalf("first Run = %d, want 1", ran)
	}
	if nested {
		t.Fatal("nested task ran in the same drain")
	}
	if ran := q.Run(); ran != 1 {
		t.Fatalf("second Run = %d, want 1", ran)
	}
	if !nested {
		t.Fatal("nested task never ran")
	}
}

func TestCancelFreesOutstanding(t *testing.T) {
	q := NewQueue(nil)
	freed := 0
	worked := 0
	for i := 0; i < 3; i++ {
		q.Post(func(freeOnly bool) {
			if freeOnly {
				freed++
			} else {
				worked++
			}
		})
	}
	q.Cancel()
	if freed != 3 || worked != 0 {
		t.Fatalf("freed=%d worked=%d, want 3/0", freed, worked)
	}

	// Posts racing past a cancel still release their payload exactly once.
	after := 0
	q.Post(func(freeOnly bool) {
		if !freeOnly {
			t.Error("post after cancel ran as work")
		}
		after++
	})
	if after != 1 {
		t.Fatalf("post after cancel invoked %d times, want 1", after)
	}
	if q.Run() != 0 {
		t.Fatal("Run on cancelled queue drained tasks")
	}
}

func TestWakeFiresOnEmptyToNonEmpty(t *testing.T) {
	wakes := 0
	q := NewQueue(func() { wakes++ })
	q.Post(func(bool) {})
	q.Post(func(bool) {})
	if wakes != 1 {
		t.Fatalf("wakes = %d, want 1 for a single empty->nonempty edge", wakes)
	}
	q.Run()
	q.Post(func(bool) {})
	if wakes != 2 {
		t.Fatalf("wakes = %d, want 2 after drain and repost", wakes)
	}
}

func TestConcurrentPosters(t *testing.T) {
	q := NewQueue(nil)
	const posters, perPoster = 8, 200
	var wg sync.WaitGroup
	for i := 0; i < posters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPoster; j++ {
				q.Post(func(bool) {})
			}
		}()
	}
	wg.Wait()
	total := 0
	for {
		n := q.Run()
		if n == 0 {
			break
		}
		total += n
	}
	if total != posters*perPoster {
		t.Fatalf("drained %d tasks, want %d", total, posters*perPoster)
	}
}
