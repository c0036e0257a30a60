/**
 * @description
 * Bounded notification dispatcher. State transitions fan notifications out to
 * the institution's mandates; delivery is best-effort and must never block
 * the caller's response, so sends are queued onto a buffered channel serviced
 * by a fixed worker pool. Workers publish email/SMS events to the message
 * broker for the notification collaborator to deliver.
 *
 * A full queue drops the notification with a warning rather than blocking or
 * spawning unbounded goroutines under burst load.
 */

package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/corepay/approval-service/pkg/rabbitmq"
)

// Notifier is the fire-and-forget notification contract used by the workflow
// engine. Implementations must return quickly and never propagate delivery
// failures to the caller.
type Notifier interface {
	SendEmail(to, subject, body string)
	SendSMS(to, body string)
}

const notifyExchange = "corepay.events"

type notificationKind int

const (
	notifyEmail notificationKind = iota
	notifySMS
)

type notification struct {
	kind    notificationKind
	to      string
	subject string
	body    string
}

// Dispatcher is a bounded worker-pool Notifier backed by the event producer.
type Dispatcher struct {
	producer rabbitmq.Publisher
	queue    chan notification
	workers  int
	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex
	closed   bool
}

// NewDispatcher creates a dispatcher with the given pool size and queue
// capacity. Zero or negative values fall back to sane defaults.
func NewDispatcher(producer rabbitmq.Publisher, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		producer: producer,
		queue:    make(chan notification, queueSize),
		workers:  workers,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	log.Printf("level=info component=notifier msg=\"dispatcher started\" workers=%d queue_cap=%d", d.workers, cap(d.queue))
}

// Stop closes the queue and waits for in-flight sends to drain. Notifications
// enqueued after Stop are dropped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.queue)
	})
	d.wg.Wait()
}

// SendEmail enqueues an email notification. Drops when the queue is full.
func (d *Dispatcher) SendEmail(to, subject, body string) {
	d.enqueue(notification{kind: notifyEmail, to: to, subject: subject, body: body})
}

// SendSMS enqueues an SMS notification. Drops when the queue is full.
func (d *Dispatcher) SendSMS(to, body string) {
	d.enqueue(notification{kind: notifySMS, to: to, body: body})
}

func (d *Dispatcher) enqueue(n notification) {
	// The read lock is held across the send so Stop cannot close the queue
	// underneath a sender already past the closed check.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Printf("level=warn component=notifier msg=\"dispatcher stopped; notification dropped\" to=%s", n.to)
		return
	}
	select {
	case d.queue <- n:
	default:
		log.Printf("level=warn component=notifier msg=\"queue full; notification dropped\" to=%s", n.to)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		var err error
		switch n.kind {
		case notifyEmail:
			err = d.producer.Publish(ctx, notifyExchange, "notify.email", rabbitmq.EmailEvent{
				To:        n.to,
				Subject:   n.subject,
				Body:      n.body,
				Timestamp: time.Now().UTC(),
			})
		case notifySMS:
			err = d.producer.Publish(ctx, notifyExchange, "notify.sms", rabbitmq.SMSEvent{
				To:        n.to,
				Body:      n.body,
				Timestamp: time.Now().UTC(),
			})
		}
		cancel()
		if err != nil {
			log.Printf("level=warn component=notifier msg=\"notification publish failed\" to=%s err=%v", n.to, err)
		}
	}
}
