package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_PerKeyOrder(t *testing.T) {
	var mu sync.Mutex
	got := map[string][]int{}
	var wg sync.WaitGroup

	type job struct {
		key string
		n   int
	}
	p := NewPool[string, job](context.Background(), 4, 8, func(ctx context.Context, j job) {
		defer wg.Done()
		mu.Lock()
		got[j.key] = append(got[j.key], j.n)
		mu.Unlock()
	})
	defer p.Close()

	for i := 0; i < 20; i++ {
		for _, k := range []string{"a", "b", "c"} {
			wg.Add(1)
			if err := p.Submit(context.Background(), k, job{k, i}); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		}
	}
	wg.Wait()

	for k, seq := range got {
		if len(seq) != 20 {
			t.Errorf("key %s: expected 20 jobs, got %d", k, len(seq))
		}
		for i, n := range seq {
			if n != i {
				t.Errorf("key %s: expected job %d at %d, got %d", k, i, i, n)
				break
			}
		}
	}
	if p.Size() != 3 {
		t.Errorf("Expected 3 workers, got %d", p.Size())
	}
}

func TestPool_ConcurrencyLimit(t *testing.T) {
	var running, peak int32
	var wg sync.WaitGroup

	p := NewPool[int, int](context.Background(), 2, 4, func(ctx context.Context, _ int) {
		defer wg.Done()
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	})
	defer p.Close()

	for k := 0; k < 6; k++ {
		wg.Add(1)
		if err := p.Submit(context.Background(), k, k); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("Expected at most 2 concurrent jobs, got %d", peak)
	}
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	done := make(chan int, 2)
	p := NewPool[string, int](context.Background(), 1, 4, func(ctx context.Context, n int) {
		if n == 0 {
			panic("boom")
		}
		done <- n
	})
	defer p.Close()

	_ = p.Submit(context.Background(), "k", 0)
	_ = p.Submit(context.Background(), "k", 1)

	select {
	case n := <-done:
		if n != 1 {
			t.Errorf("Expected job 1, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool[string, int](context.Background(), 1, 1, func(ctx context.Context, n int) {})
	p.Close()

	if err := p.Submit(context.Background(), "k", 1); err == nil {
		t.Error("Expected error submitting to a closed pool")
	}
}

func TestEnqueue_ContextCancelled(t *testing.T) {
	jobs := make(chan int) // unbuffered, nobody reading
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Enqueue(ctx, context.Background(), jobs, 1); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestStart_DrainsJobsAndCallsDone(t *testing.T) {
	jobs := make(chan int, 3)
	done := make(chan struct{})
	var sum int32

	Start(StartOptions[int]{
		Ctx:    context.Background(),
		Sem:    make(chan struct{}, 1),
		Jobs:   jobs,
		Handle: func(ctx context.Context, n int) { atomic.AddInt32(&sum, int32(n)) },
		Done:   func() { close(done) },
	})
	jobs <- 1
	jobs <- 2
	jobs <- 3
	close(jobs)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Done after the job channel closed")
	}
	if got := atomic.LoadInt32(&sum); got != 6 {
		t.Errorf("Expected 6, got %d", got)
	}
}
