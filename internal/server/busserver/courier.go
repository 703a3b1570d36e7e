package busserver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/veridios/quiesce-go/internal/core/domain"
	"github.com/veridios/quiesce-go/internal/core/service"
	"github.com/veridios/quiesce-go/pkg/busproto"
)

// sender is the transmit half of one Listen stream. Connect server streams
// are not safe for concurrent sends, so every delivery goes through mu.
type sender struct {
	mu   sync.Mutex
	send func(*busproto.Notice) error
	done chan struct{}
}

// deliver sends a notice unless the stream is already gone.
func (s *sender) deliver(n *busproto.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return domain.ErrSubscriberGone
	default:
	}
	return s.send(n)
}

// close marks the stream dead. Safe to call more than once.
func (s *sender) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// ackKey matches an acknowledgement to the cycle that is waiting for it.
type ackKey struct {
	subscriberID string
	cycleID      string
}

// Courier delivers directives over the Listen streams and routes prepare
// acknowledgements arriving on the Ack procedure back to the waiting cycle.
// It is the bus server's implementation of the orchestrator's delivery
// contract.
type Courier struct {
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*sender
	pending map[ackKey]chan service.PrepareAnswer
}

// NewCourier creates an empty courier.
func NewCourier(logger *slog.Logger) *Courier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Courier{
		logger:  logger,
		streams: make(map[string]*sender),
		pending: make(map[ackKey]chan service.PrepareAnswer),
	}
}

// attach binds a Listen stream to a registration. A reconnecting subscriber
// replaces its previous stream; the old one is closed so its handler
// goroutine unblocks.
func (c *Courier) attach(subscriberID string, s *sender) {
	c.mu.Lock()
	prev := c.streams[subscriberID]
	c.streams[subscriberID] = s
	c.mu.Unlock()

	if prev != nil {
		prev.close()
		c.logger.Info("listen stream replaced", "subscriber_id", subscriberID)
	}
}

// detach unbinds a stream. A stream that was already replaced by a
// reconnect leaves the replacement in place.
func (c *Courier) detach(subscriberID string, s *sender) {
	c.mu.Lock()
	if c.streams[subscriberID] == s {
		delete(c.streams, subscriberID)
	}
	c.mu.Unlock()
	s.close()
}

// Connected reports whether a registration currently has a live stream.
func (c *Courier) Connected(subscriberID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[subscriberID]
	return ok
}

// Prepare delivers the prepare directive and blocks until the subscriber
// acknowledges on the Ack procedure, the stream dies, or ctx expires.
func (c *Courier) Prepare(ctx context.Context, sub *domain.Subscriber, notice service.Notice) (service.PrepareAnswer, error) {
	c.mu.Lock()
	stream, ok := c.streams[sub.ID]
	if !ok {
		c.mu.Unlock()
		return service.PrepareAnswer{}, domain.ErrSubscriberGone.WithDetails("no listen stream for " + sub.Name)
	}

	key := ackKey{subscriberID: sub.ID, cycleID: notice.CycleID}
	answers := make(chan service.PrepareAnswer, 1)
	c.pending[key] = answers
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	if err := stream.deliver(wireNotice(sub, notice)); err != nil {
		return service.PrepareAnswer{}, domain.ErrSubscriberGone.WithCause(err)
	}

	select {
	case answer := <-answers:
		return answer, nil
	case <-stream.done:
		return service.PrepareAnswer{}, domain.ErrSubscriberGone.WithDetails("stream closed while awaiting acknowledgement from " + sub.Name)
	case <-ctx.Done():
		return service.PrepareAnswer{}, ctx.Err()
	}
}

// Notify delivers a directive that takes no answer.
func (c *Courier) Notify(ctx context.Context, sub *domain.Subscriber, notice service.Notice) error {
	c.mu.Lock()
	stream, ok := c.streams[sub.ID]
	c.mu.Unlock()
	if !ok {
		return domain.ErrSubscriberGone.WithDetails("no listen stream for " + sub.Name)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stream.deliver(wireNotice(sub, notice)); err != nil {
		return domain.ErrSubscriberGone.WithCause(err)
	}
	return nil
}

// DeliverAck hands an acknowledgement to the cycle waiting on it. The
// return value reports whether anything was still waiting: a late answer,
// or one for a cycle that already moved on, is dropped.
func (c *Courier) DeliverAck(subscriberID, cycleID string, answer service.PrepareAnswer) bool {
	c.mu.Lock()
	answers, ok := c.pending[ackKey{subscriberID: subscriberID, cycleID: cycleID}]
	c.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case answers <- answer:
		return true
	default:
		// A duplicate ack for the same cycle.
		return false
	}
}

// wireNotice converts the orchestrator's notice into its wire form, stamping
// in the opcode the subscriber chose at registration.
func wireNotice(sub *domain.Subscriber, notice service.Notice) *busproto.Notice {
	n := &busproto.Notice{
		CycleID:   notice.CycleID,
		Epoch:     notice.Epoch,
		Directive: busproto.Directive(notice.Directive),
		Opcode:    sub.Opcode,
	}
	if !notice.Deadline.IsZero() {
		n.Deadline = notice.Deadline.UnixMilli()
	}
	return n
}
