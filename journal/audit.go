package journal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fxpulse/fxpulse/logging"
)

// Notifier is a best-effort transport sink for audit events (e.g. a chat
// webhook). Implementations filter by severity themselves; EMERGENCY events
// must never be filtered. Delivery failures are logged and dropped, never
// retried on the hot path.
type Notifier interface {
	Notify(e Event) error
}

// AuditSink is the single entry point for structured events. Emit appends
// synchronously to the durable store (the source of truth) and queues the
// event for asynchronous delivery to the transport sinks. Emit never blocks
// on transports: when the queue is full the transport copy is dropped.
type AuditSink struct {
	store     Store
	notifiers []Notifier
	log       logging.Logger

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewAuditSink starts the drainer goroutine. queueSize bounds the number of
// in-flight transport deliveries.
func NewAuditSink(store Store, log logging.Logger, queueSize int, notifiers ...Notifier) *AuditSink {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &AuditSink{
		store:     store,
		notifiers: notifiers,
		log:       log,
		queue:     make(chan Event, queueSize),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// Emit records the event. The durable append is synchronous; transport
// delivery is fire-and-forget.
func (s *AuditSink) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := s.store.RecordEvent(e); err != nil {
		s.log.Error(err, "audit append failed", logging.F{"type": e.Type})
	}

	select {
	case s.queue <- e:
	default:
		s.log.Warn("audit transport queue full, dropping event",
			logging.F{"type": e.Type, "severity": string(e.Severity)})
	}
}

// EmitJSON marshals payload and emits the event.
func (s *AuditSink) EmitJSON(component, eventType string, sev Severity, correlationID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(`{}`)
	}
	s.Emit(Event{
		Component:     component,
		Type:          eventType,
		Severity:      sev,
		CorrelationID: correlationID,
		Payload:       string(body),
	})
}

func (s *AuditSink) drain() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.queue:
			s.deliver(e)
		case <-s.done:
			// flush what is already queued
			for {
				select {
				case e := <-s.queue:
					s.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (s *AuditSink) deliver(e Event) {
	for _, n := range s.notifiers {
		if err := n.Notify(e); err != nil {
			s.log.Warn("notify failed", logging.F{"type": e.Type, "err": err.Error()})
		}
	}
}

// Close stops the drainer after flushing queued events.
func (s *AuditSink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
