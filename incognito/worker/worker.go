// Package worker manages the lifecycle of background goroutines.
package worker

import "sync"

// Worker is a set of managed background goroutines. The zero value is
// ready to use. Each goroutine started with Go must watch HaltCh and
// return when it closes.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once

	haltCh chan struct{}
}

// Go runs fn in a new goroutine tracked by the worker.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt signals all goroutines to terminate and waits for them to return.
// Halt must be called at most once.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	close(w.haltCh)
	w.Wait()
}

// HaltCh returns the channel closed by Halt.
func (w *Worker) HaltCh() <-chan struct{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

func (w *Worker) init() {
	w.haltCh = make(chan struct{})
}
