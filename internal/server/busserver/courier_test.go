package busserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veridios/quiesce-go/internal/core/domain"
	"github.com/veridios/quiesce-go/internal/core/service"
	"github.com/veridios/quiesce-go/pkg/busproto"
)

func testSubscriber(t *testing.T, name string) *domain.Subscriber {
	t.Helper()
	sub, err := domain.NewSubscriber(name, domain.OrderNormal, 0x42)
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}
	sub.Seq = 1
	return sub
}

// fakeStream attaches a capturing sender and returns the channel notices
// arrive on.
func fakeStream(c *Courier, subscriberID string) (*sender, chan *busproto.Notice) {
	notices := make(chan *busproto.Notice, 8)
	s := &sender{
		send: func(n *busproto.Notice) error {
			notices <- n
			return nil
		},
		done: make(chan struct{}),
	}
	c.attach(subscriberID, s)
	return s, notices
}

func TestPrepareAcknowledged(t *testing.T) {
	c := NewCourier(nil)
	sub := testSubscriber(t, "net.veridios.keyvault")
	_, notices := fakeStream(c, sub.ID)

	notice := service.Notice{
		CycleID:   "qcyc-01hxyztest0000000000000000",
		Epoch:     3,
		Directive: domain.DirectivePrepare,
		Deadline:  time.Now().Add(time.Second),
	}

	done := make(chan struct{})
	var answer service.PrepareAnswer
	var prepErr error
	go func() {
		defer close(done)
		answer, prepErr = c.Prepare(context.Background(), sub, notice)
	}()

	// The subscriber sees the prepare directive with its opcode echoed.
	got := <-notices
	if got.Directive != busproto.DirectivePrepare {
		t.Fatalf("Directive = %v, want prepare", got.Directive)
	}
	if got.Opcode != sub.Opcode {
		t.Fatalf("Opcode = %#x, want %#x", got.Opcode, sub.Opcode)
	}
	if got.Deadline == 0 {
		t.Fatal("prepare notice missing deadline")
	}

	if !c.DeliverAck(sub.ID, notice.CycleID, service.PrepareAnswer{Ready: true}) {
		t.Fatal("DeliverAck() not accepted while cycle is waiting")
	}

	<-done
	if prepErr != nil {
		t.Fatalf("Prepare() error = %v", prepErr)
	}
	if !answer.Ready {
		t.Error("answer.Ready = false, want true")
	}
}

func TestPrepareVeto(t *testing.T) {
	c := NewCourier(nil)
	sub := testSubscriber(t, "net.veridios.recorder")
	_, notices := fakeStream(c, sub.ID)

	notice := service.Notice{CycleID: "qcyc-01hxyztest0000000000000001", Directive: domain.DirectivePrepare}

	done := make(chan struct{})
	var answer service.PrepareAnswer
	go func() {
		defer close(done)
		answer, _ = c.Prepare(context.Background(), sub, notice)
	}()

	<-notices
	c.DeliverAck(sub.ID, notice.CycleID, service.PrepareAnswer{Ready: false, Reason: "recording in progress"})

	<-done
	if answer.Ready {
		t.Error("answer.Ready = true, want veto")
	}
	if answer.Reason != "recording in progress" {
		t.Errorf("answer.Reason = %q", answer.Reason)
	}
}

func TestPrepareNoStream(t *testing.T) {
	c := NewCourier(nil)
	sub := testSubscriber(t, "net.veridios.ghost")

	_, err := c.Prepare(context.Background(), sub, service.Notice{CycleID: "qcyc-x"})
	if !errors.Is(err, domain.ErrSubscriberGone) {
		t.Fatalf("Prepare() error = %v, want ErrSubscriberGone", err)
	}
}

func TestPrepareStreamDiesMidWait(t *testing.T) {
	c := NewCourier(nil)
	sub := testSubscriber(t, "net.veridios.flaky")
	s, notices := fakeStream(c, sub.ID)

	done := make(chan error, 1)
	go func() {
		_, err := c.Prepare(context.Background(), sub, service.Notice{CycleID: "qcyc-y", Directive: domain.DirectivePrepare})
		done <- err
	}()

	<-notices
	c.detach(sub.ID, s)

	if err := <-done; !errors.Is(err, domain.ErrSubscriberGone) {
		t.Fatalf("Prepare() error = %v, want ErrSubscriberGone", err)
	}
}

func TestPrepareContextDeadline(t *testing.T) {
	c := NewCourier(nil)
	sub := testSubscriber(t, "net.veridios.sleeper")
	_, notices := fakeStream(c, sub.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.Prepare(ctx, sub, service.Notice{CycleID: "qcyc-z", Directive: domain.DirectivePrepare})
		done <- err
	}()

	<-notices
	// No ack ever arrives.
	if err := <-done; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Prepare() error = %v, want DeadlineExceeded", err)
	}

	// The pending slot is cleaned up, so a late ack is dropped.
	if c.DeliverAck(sub.ID, "qcyc-z", service.PrepareAnswer{Ready: true}) {
		t.Error("late acknowledgement was accepted")
	}
}

func TestNotify(t *testing.T) {
	c := NewCourier(nil)
	sub := testSubscriber(t, "net.veridios.display")
	_, notices := fakeStream(c, sub.ID)

	err := c.Notify(context.Background(), sub, service.Notice{
		CycleID:   "qcyc-01hxyztest0000000000000002",
		Directive: domain.DirectiveResume,
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	got := <-notices
	if got.Directive != busproto.DirectiveResume {
		t.Errorf("Directive = %v, want resume", got.Directive)
	}
	if got.Deadline != 0 {
		t.Errorf("resume notice carries deadline %d, want none", got.Deadline)
	}
}

func TestNotifyNoStream(t *testing.T) {
	c := NewCourier(nil)
	sub := testSubscriber(t, "net.veridios.gone")

	err := c.Notify(context.Background(), sub, service.Notice{CycleID: "qcyc-a", Directive: domain.DirectiveAbort})
	if !errors.Is(err, domain.ErrSubscriberGone) {
		t.Fatalf("Notify() error = %v, want ErrSubscriberGone", err)
	}
}

func TestReconnectReplacesStream(t *testing.T) {
	c := NewCourier(nil)
	sub := testSubscriber(t, "net.veridios.reconnect")

	first, _ := fakeStream(c, sub.ID)
	_, second := fakeStream(c, sub.ID)

	// The replaced stream is closed so its handler unblocks.
	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("replaced stream was not closed")
	}

	// Deliveries go to the replacement.
	if err := c.Notify(context.Background(), sub, service.Notice{CycleID: "qcyc-b", Directive: domain.DirectiveResume}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	select {
	case <-second:
	default:
		t.Fatal("notice did not reach the replacement stream")
	}

	// Detaching the stale first stream must not remove the replacement.
	c.detach(sub.ID, first)
	if !c.Connected(sub.ID) {
		t.Error("replacement stream removed by stale detach")
	}
}
