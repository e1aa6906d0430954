package modelshard

import "deepx/internal/model"

// Pool is ModelShard's single-threaded async executor: one goroutine drains
// a channel of posted tasks in FIFO order. It is used by the in-process
// sharded trainer, which posts AsyncPull/AsyncPush to every shard and waits
// on all of them before proceeding to the next mini-batch stage.
type Pool struct {
	shard *ModelShard
	tasks chan func()
	done  chan struct{}
}

// InitThreadPool allocates the task channel. Call Start to begin draining
// it.
func (m *ModelShard) InitThreadPool() *Pool {
	return &Pool{shard: m, tasks: make(chan func(), 64), done: make(chan struct{})}
}

// Start launches the pool's single worker goroutine.
func (p *Pool) Start() {
	go func() {
		for {
			select {
			case fn, ok := <-p.tasks:
				if !ok {
					return
				}
				fn()
			case <-p.done:
				return
			}
		}
	}()
}

// Stop terminates the worker goroutine. Any task still queued is
// abandoned; pending Handle.Wait() calls for it never return. Callers
// should Wait() on every outstanding Handle before calling Stop.
func (p *Pool) Stop() {
	close(p.done)
}

// Handle is returned by AsyncPull/AsyncPush; callers Wait() on it before
// reading the result.
type Handle struct {
	err  chan error
}

// Wait blocks until the posted operation completes and returns its error.
func (h *Handle) Wait() error { return <-h.err }

// AsyncPull posts a Pull to the shard's serial executor. Requests queued
// from one caller are processed FIFO.
func (p *Pool) AsyncPull(req *model.PullRequest, out *model.TensorMap) *Handle {
	h := &Handle{err: make(chan error, 1)}
	p.tasks <- func() {
		h.err <- p.shard.Pull(req, out)
	}
	return h
}

// AsyncPush posts a Push to the shard's serial executor.
func (p *Pool) AsyncPush(grad, overwritten *model.TensorMap, now int64) *Handle {
	h := &Handle{err: make(chan error, 1)}
	p.tasks <- func() {
		h.err <- p.shard.Push(grad, overwritten, now)
	}
	return h
}
