package worker

import (
	"context"
	"sync"

	"github.com/sendloop/wa-gateway/pkg/logger"
)

type Handler = func(workerIndex int, job interface{})

// Pool is a fixed-size goroutine pool fed by a buffered job channel.
// Workers run until Shutdown; jobs already pulled from the channel are
// finished before a worker exits.
type Pool struct {
	bufferSize int
	jobs       chan interface{}
	size       int
	do         Handler
	cancel     context.CancelFunc
	ctx        context.Context
	waiter     sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

func NewPool(bufferSize, size int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		bufferSize: bufferSize,
		size:       size,
		jobs:       make(chan interface{}, bufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (p *Pool) SetHandler(h Handler) {
	p.do = h
}

// Enqueue publishes a job onto the pool channel. Blocks when the buffer
// is full, which backpressures the queue consumer.
func (p *Pool) Enqueue(job interface{}) {
	select {
	case p.jobs <- job:
	case <-p.ctx.Done():
	}
}

func (p *Pool) Backlog() int64 {
	return int64(len(p.jobs))
}

// Start launches the workers and blocks until Shutdown is called.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.waiter.Add(p.size)
		for i := 0; i < p.size; i++ {
			go func(index int) {
				defer p.waiter.Done()
				for {
					select {
					case job := <-p.jobs:
						p.do(index, job)
					case <-p.ctx.Done():
						return
					}
				}
			}(i)
		}
		p.waiter.Wait()
	})
}

// Shutdown stops all workers. In-flight handlers run to completion.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() {
		logger.Info("worker pool shutting down", "workers", p.size, "backlog", p.Backlog())
		p.cancel()
	})
	p.waiter.Wait()
}
