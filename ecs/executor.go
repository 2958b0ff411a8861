package ecs

import (
	"runtime"
	"sync"
)

// workerPool executes system tasks on a fixed set of goroutines. There is no
// cooperative suspension: a submitted task runs to completion on its worker.
// Stage barriers are the caller's concern; the pool only dispatches.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	size  int
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &workerPool{
		tasks: make(chan func()),
		size:  size,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// submit blocks until a worker accepts the task. Submitted tasks must
// recover their own panics; a panic escaping a task kills its worker.
func (p *workerPool) submit(task func()) {
	p.tasks <- task
}

// close stops accepting tasks and waits for workers to drain.
func (p *workerPool) close() {
	close(p.tasks)
	p.wg.Wait()
}
