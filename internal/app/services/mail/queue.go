package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/R3E-Network/contactbook/internal/app/metrics"
	"github.com/R3E-Network/contactbook/internal/app/system"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

var _ system.Service = (*Queue)(nil)

// ErrQueueFull is returned by Enqueue when the buffer has no room.
var ErrQueueFull = errors.New("mail queue is full")

// Queue delivers messages asynchronously so request handlers never wait on
// the mail relay. Delivery failures are logged and counted.
type Queue struct {
	mailer      Mailer
	log         *logger.Logger
	workers     int
	sendTimeout time.Duration
	pending     chan Message

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewQueue creates a queue with the given buffer size and worker count.
func NewQueue(mailer Mailer, size, workers int, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.NewDefault("mail-queue")
	}
	if size <= 0 {
		size = 100
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		mailer:      mailer,
		log:         log,
		workers:     workers,
		sendTimeout: 30 * time.Second,
		pending:     make(chan Message, size),
	}
}

func (q *Queue) Name() string { return "mail-queue" }

// Enqueue buffers msg for delivery. It never blocks.
func (q *Queue) Enqueue(msg Message) error {
	select {
	case q.pending <- msg:
		return nil
	default:
		metrics.RecordMailDropped(msg.Template)
		q.log.WithField("to", msg.To).Warn("mail queue full, message dropped")
		return ErrQueueFull
	}
}

// Pending reports how many messages are waiting for a worker.
func (q *Queue) Pending() int { return len(q.pending) }

func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case msg := <-q.pending:
					q.deliver(runCtx, msg)
				}
			}
		}()
	}

	q.log.Infof("mail queue started with %d workers", q.workers)
	return nil
}

// Stop halts the workers. Messages still buffered are delivered with the
// remaining time of ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	cancel := q.cancel
	q.running = false
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.drain(ctx)
	q.log.Info("mail queue stopped")
	return nil
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if n := len(q.pending); n > 0 {
				q.log.Warnf("mail queue stopped with %d undelivered messages", n)
			}
			return
		case msg := <-q.pending:
			q.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, q.sendTimeout)
	defer cancel()

	start := time.Now()
	err := q.mailer.Send(ctx, msg)
	metrics.RecordMailDelivery(msg.Template, time.Since(start), err)
	if err != nil {
		q.log.WithError(err).
			WithField("to", msg.To).
			WithField("template", msg.Template).
			Warn("mail delivery failed")
	}
}
