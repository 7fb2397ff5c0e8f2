package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Async queues messages for a single delivery worker. Failed deliveries are
// logged and discarded; they are never retried.
type Async struct {
	sender  Sender
	log     *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan string
	done   chan struct{}
}

// NewAsync starts the delivery worker.
func NewAsync(sender Sender, log *slog.Logger, queueSize int) *Async {
	if queueSize <= 0 {
		queueSize = 64
	}
	a := &Async{
		sender:  sender,
		log:     log,
		timeout: 10 * time.Second,
		queue:   make(chan string, queueSize),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

// Notify enqueues msg without blocking. It reports false when the message was
// dropped because the queue is full or the worker has stopped.
func (a *Async) Notify(msg string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	select {
	case a.queue <- msg:
		return true
	default:
		a.log.Warn("notification dropped, queue full")
		return false
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) loop() {
	defer close(a.done)
	for msg := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sender.Send(ctx, msg); err != nil {
			a.log.Warn("notify failed", "err", err)
		}
		cancel()
	}
}
