package busserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/veridios/quiesce-go/internal/core/domain"
	"github.com/veridios/quiesce-go/internal/core/registry"
	"github.com/veridios/quiesce-go/internal/core/service"
	"github.com/veridios/quiesce-go/pkg/busproto"
)

// Handler implements the BusService procedures.
//
// It connects the Connect/CBOR RPC layer with the registry, the courier,
// and the suspend orchestrator.
type Handler struct {
	registry *registry.Registry
	orch     *service.Orchestrator
	courier  *Courier
	logger   *slog.Logger
}

// NewHandler creates a new bus handler.
func NewHandler(reg *registry.Registry, orch *service.Orchestrator, courier *Courier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: reg,
		orch:     orch,
		courier:  courier,
		logger:   logger,
	}
}

// Routes mounts every bus procedure on a new mux with the CBOR codec and
// the default interceptor chain.
func (h *Handler) Routes() http.Handler {
	opts := []connect.HandlerOption{
		connect.WithCodec(busproto.Codec{}),
		connect.WithInterceptors(DefaultInterceptors(h.logger)...),
	}

	mux := http.NewServeMux()
	mux.Handle(busproto.RegisterProcedure,
		connect.NewUnaryHandler(busproto.RegisterProcedure, h.Register, opts...))
	mux.Handle(busproto.UnregisterProcedure,
		connect.NewUnaryHandler(busproto.UnregisterProcedure, h.Unregister, opts...))
	mux.Handle(busproto.AckProcedure,
		connect.NewUnaryHandler(busproto.AckProcedure, h.Ack, opts...))
	mux.Handle(busproto.TriggerSuspendProcedure,
		connect.NewUnaryHandler(busproto.TriggerSuspendProcedure, h.TriggerSuspend, opts...))
	mux.Handle(busproto.StatusProcedure,
		connect.NewUnaryHandler(busproto.StatusProcedure, h.Status, opts...))
	mux.Handle(busproto.ListenProcedure,
		connect.NewServerStreamHandler(busproto.ListenProcedure, h.Listen, opts...))
	return mux
}

// Register handles the Register procedure.
//
// Re-registering an existing name is idempotent: the original ID, order
// class, and broadcast position come back with Created false.
func (h *Handler) Register(
	ctx context.Context,
	req *connect.Request[busproto.RegisterRequest],
) (*connect.Response[busproto.RegisterResponse], error) {
	sub, err := domain.NewSubscriber(req.Msg.Name, subscriberOrder(req.Msg.Order), req.Msg.Opcode)
	if err != nil {
		return nil, asConnectError(err)
	}
	sub.Remote = req.Peer().Addr

	entry, created, err := h.registry.Register(sub)
	if err != nil {
		return nil, asConnectError(err)
	}

	h.logger.Info("subscriber registered",
		"subscriber", entry.Name,
		"subscriber_id", entry.ID,
		"order", entry.Order.String(),
		"created", created)

	return connect.NewResponse(&busproto.RegisterResponse{
		SubscriberID: entry.ID,
		Seq:          entry.Seq,
		Created:      created,
	}), nil
}

// subscriberOrder maps the wire order class onto the domain class. The
// wire zero value means the client never chose one; it registers as the
// default Normal class, as does anything out of range.
func subscriberOrder(o busproto.Order) domain.Order {
	switch o {
	case busproto.OrderEarly:
		return domain.OrderEarly
	case busproto.OrderLate:
		return domain.OrderLate
	default:
		return domain.OrderNormal
	}
}

// Unregister handles the Unregister procedure. Removing a registration that
// does not exist is not an error; Removed reports what happened.
func (h *Handler) Unregister(
	ctx context.Context,
	req *connect.Request[busproto.UnregisterRequest],
) (*connect.Response[busproto.UnregisterResponse], error) {
	err := h.registry.Unregister(req.Msg.SubscriberID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			return connect.NewResponse(&busproto.UnregisterResponse{Removed: false}), nil
		}
		return nil, asConnectError(err)
	}

	h.logger.Info("subscriber unregistered", "subscriber_id", req.Msg.SubscriberID)
	return connect.NewResponse(&busproto.UnregisterResponse{Removed: true}), nil
}

// Ack handles the Ack procedure: a subscriber's answer to a prepare notice.
// Accepted is false for answers that arrive after their deadline or for a
// cycle that is no longer collecting.
func (h *Handler) Ack(
	ctx context.Context,
	req *connect.Request[busproto.AckRequest],
) (*connect.Response[busproto.AckResponse], error) {
	id := domain.NormalizeSubscriberID(req.Msg.SubscriberID)
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			domain.ErrInvalidArgument.WithDetails("malformed subscriber id"))
	}
	if req.Msg.CycleID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			domain.ErrMissingArgument.WithDetails("cycle id is required"))
	}

	h.registry.Touch(id)

	accepted := h.courier.DeliverAck(id, req.Msg.CycleID, service.PrepareAnswer{
		Ready:  req.Msg.Ready,
		Reason: req.Msg.Reason,
	})
	if !accepted {
		h.logger.Warn("acknowledgement dropped",
			"subscriber_id", id,
			"cycle_id", req.Msg.CycleID,
			"ready", req.Msg.Ready)
	}

	return connect.NewResponse(&busproto.AckResponse{Accepted: accepted}), nil
}

// TriggerSuspend handles the TriggerSuspend procedure.
//
// A cycle that ran and failed is a normal response whose record says why;
// the RPC errors only when no cycle ran at all (bad request, busy, retry
// budget exhausted).
func (h *Handler) TriggerSuspend(
	ctx context.Context,
	req *connect.Request[busproto.TriggerSuspendRequest],
) (*connect.Response[busproto.TriggerSuspendResponse], error) {
	requester := req.Msg.Requester
	if requester == "" {
		requester = "bus:" + req.Peer().Addr
	}

	resp, err := h.orch.Suspend(ctx, &service.SuspendRequest{
		Requester: requester,
		Reason:    req.Msg.Reason,
	})
	if resp != nil && resp.Cycle != nil {
		return connect.NewResponse(&busproto.TriggerSuspendResponse{
			Cycle: cycleSummary(resp.Cycle),
		}), nil
	}
	return nil, asConnectError(err)
}

// Status handles the Status procedure.
func (h *Handler) Status(
	ctx context.Context,
	req *connect.Request[busproto.StatusRequest],
) (*connect.Response[busproto.StatusResponse], error) {
	st := h.orch.Status()

	return connect.NewResponse(&busproto.StatusResponse{
		State:       st.State.String(),
		Epoch:       st.Epoch,
		Subscribers: st.Subscribers,
		GatewayKind: st.GatewayKind,
		SwapEnabled: st.SwapEnabled,
		LastCycle:   cycleSummary(st.LastCycle),
	}), nil
}

// Listen handles the Listen server stream. The handler parks until the
// client disconnects or a reconnect replaces the stream; directives are
// pushed by the courier from the orchestrator's cycle.
func (h *Handler) Listen(
	ctx context.Context,
	req *connect.Request[busproto.ListenRequest],
	stream *connect.ServerStream[busproto.Notice],
) error {
	id := domain.NormalizeSubscriberID(req.Msg.SubscriberID)
	if id == "" {
		return connect.NewError(connect.CodeInvalidArgument,
			domain.ErrInvalidArgument.WithDetails("malformed subscriber id"))
	}

	sub, err := h.registry.Get(id)
	if err != nil {
		return asConnectError(err)
	}

	s := &sender{
		send: stream.Send,
		done: make(chan struct{}),
	}
	h.courier.attach(id, s)
	defer h.courier.detach(id, s)
	h.registry.Touch(id)

	h.logger.Info("listen stream opened",
		"subscriber", sub.Name,
		"subscriber_id", id)

	select {
	case <-ctx.Done():
	case <-s.done:
	}

	h.logger.Info("listen stream closed",
		"subscriber", sub.Name,
		"subscriber_id", id)
	return nil
}

// cycleSummary converts a cycle record to its wire form. Nil in, nil out.
func cycleSummary(rec *domain.CycleRecord) *busproto.CycleSummary {
	if rec == nil {
		return nil
	}
	return &busproto.CycleSummary{
		ID:               rec.ID,
		Epoch:            rec.Epoch,
		Outcome:          rec.Outcome.String(),
		FailedSubscriber: rec.FailedSubscriber,
		DenyReason:       rec.DenyReason,
		Acked:            rec.Acked,
		Notified:         rec.Notified,
		StartedAt:        rec.StartedAt,
		EndedAt:          rec.EndedAt,
	}
}

// asConnectError maps domain errors to Connect codes. Anything unmapped is
// an internal error.
func asConnectError(err error) *connect.Error {
	if err == nil {
		err = domain.ErrInternalServer
	}

	var code connect.Code
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrMissingArgument),
		errors.Is(err, domain.ErrSubscriberValidation),
		errors.Is(err, domain.ErrTokenMalformed),
		errors.Is(err, domain.ErrBadRequest):
		code = connect.CodeInvalidArgument
	case errors.Is(err, domain.ErrSubscriberNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrMidCycleRegister),
		errors.Is(err, domain.ErrNotSuspended):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, domain.ErrRateLimited):
		code = connect.CodeResourceExhausted
	case errors.Is(err, domain.ErrPrepareTimeout),
		errors.Is(err, domain.ErrCycleDeadline):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, domain.ErrPrepareDenied),
		errors.Is(err, domain.ErrCycleAborted),
		errors.Is(err, domain.ErrTokenMismatch):
		code = connect.CodeAborted
	case errors.Is(err, domain.ErrSubscriberGone),
		errors.Is(err, domain.ErrServiceUnavailable):
		code = connect.CodeUnavailable
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
