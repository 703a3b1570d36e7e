package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/veridios/quiesce-go/pkg/busproto"
)

// Config holds the subscriber client configuration.
type Config struct {
	// SocketPath is the daemon's bus socket.
	SocketPath string

	// Name is the stable subscriber identity (e.g. "net.veridios.keyvault").
	Name string

	// Order is the broadcast class. The zero value registers as
	// OrderNormal.
	Order busproto.Order

	// Opcode is an opaque tag echoed in every notice, for routing inside
	// the subscriber's own event loop. Optional.
	Opcode uint32

	// DialTimeout bounds each socket dial. Zero means 5 seconds.
	DialTimeout time.Duration

	// Logger may be nil.
	Logger *slog.Logger
}

// Notice is one directive delivered to the subscriber.
type Notice struct {
	CycleID   string
	Epoch     uint64
	Directive busproto.Directive
	Opcode    uint32

	// Deadline is when the prepare acknowledgement is due. Zero for
	// directives that take no answer.
	Deadline time.Time
}

// Handlers holds the per-directive callbacks for Run. Nil handlers are
// skipped; a nil Prepare acknowledges readiness unconditionally.
type Handlers struct {
	// Prepare is called for the prepare directive. Returning nil
	// acknowledges readiness; returning an error vetoes the cycle with the
	// error text as the reason. The context carries the notice deadline.
	Prepare func(ctx context.Context, n Notice) error

	// Abort is called when an acknowledged cycle is rolled back.
	Abort func(ctx context.Context, n Notice)

	// Resume is called after a validated wake.
	Resume func(ctx context.Context, n Notice)

	// Reinit is called instead of Resume when the wake could not be
	// trusted. The subscriber should rebuild state as it would on a cold
	// boot.
	Reinit func(ctx context.Context, n Notice)
}

// Client is a connection to the quiesce bus.
type Client struct {
	cfg    Config
	logger *slog.Logger

	httpClient *http.Client

	register   *connect.Client[busproto.RegisterRequest, busproto.RegisterResponse]
	unregister *connect.Client[busproto.UnregisterRequest, busproto.UnregisterResponse]
	ack        *connect.Client[busproto.AckRequest, busproto.AckResponse]
	trigger    *connect.Client[busproto.TriggerSuspendRequest, busproto.TriggerSuspendResponse]
	status     *connect.Client[busproto.StatusRequest, busproto.StatusResponse]
	listen     *connect.Client[busproto.ListenRequest, busproto.Notice]

	subscriberID string
}

// baseURL is a placeholder host; routing happens on the socket, not DNS.
const baseURL = "http://quiesce"

// Dial creates a client for the bus socket. No connection is made until the
// first call.
func Dial(cfg Config) (*Client, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("subscriber: socket path is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("subscriber: name is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	socketPath := cfg.SocketPath
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				d := net.Dialer{Timeout: cfg.DialTimeout}
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}

	opts := []connect.ClientOption{connect.WithCodec(busproto.Codec{})}

	return &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: httpClient,
		register: connect.NewClient[busproto.RegisterRequest, busproto.RegisterResponse](
			httpClient, baseURL+busproto.RegisterProcedure, opts...),
		unregister: connect.NewClient[busproto.UnregisterRequest, busproto.UnregisterResponse](
			httpClient, baseURL+busproto.UnregisterProcedure, opts...),
		ack: connect.NewClient[busproto.AckRequest, busproto.AckResponse](
			httpClient, baseURL+busproto.AckProcedure, opts...),
		trigger: connect.NewClient[busproto.TriggerSuspendRequest, busproto.TriggerSuspendResponse](
			httpClient, baseURL+busproto.TriggerSuspendProcedure, opts...),
		status: connect.NewClient[busproto.StatusRequest, busproto.StatusResponse](
			httpClient, baseURL+busproto.StatusProcedure, opts...),
		listen: connect.NewClient[busproto.ListenRequest, busproto.Notice](
			httpClient, baseURL+busproto.ListenProcedure, opts...),
	}, nil
}

// Register registers the subscriber on the bus. Registering an already
// registered name is idempotent and refreshes the connection metadata.
func (c *Client) Register(ctx context.Context) error {
	resp, err := c.register.CallUnary(ctx, connect.NewRequest(&busproto.RegisterRequest{
		Name:   c.cfg.Name,
		Order:  c.cfg.Order,
		Opcode: c.cfg.Opcode,
	}))
	if err != nil {
		return fmt.Errorf("subscriber: register %s: %w", c.cfg.Name, err)
	}

	c.subscriberID = resp.Msg.SubscriberID
	c.logger.Info("registered on quiesce bus",
		"subscriber", c.cfg.Name,
		"subscriber_id", c.subscriberID,
		"created", resp.Msg.Created)
	return nil
}

// SubscriberID returns the registration ID, empty before Register.
func (c *Client) SubscriberID() string {
	return c.subscriberID
}

// Run opens the notification stream and dispatches directives to the
// handlers until ctx is cancelled or the stream breaks. Register must have
// succeeded first.
//
// Run does not reconnect by itself; callers that want resilience wrap it in
// their own retry loop and call Register again before each attempt.
func (c *Client) Run(ctx context.Context, h Handlers) error {
	if c.subscriberID == "" {
		return fmt.Errorf("subscriber: Run before Register")
	}

	stream, err := c.listen.CallServerStream(ctx, connect.NewRequest(&busproto.ListenRequest{
		SubscriberID: c.subscriberID,
	}))
	if err != nil {
		return fmt.Errorf("subscriber: open listen stream: %w", err)
	}
	defer stream.Close()

	for stream.Receive() {
		n := stream.Msg()
		if err := n.Validate(); err != nil {
			c.logger.Warn("dropping malformed notice", "error", err)
			continue
		}
		c.dispatch(ctx, h, Notice{
			CycleID:   n.CycleID,
			Epoch:     n.Epoch,
			Directive: n.Directive,
			Opcode:    n.Opcode,
			Deadline:  deadlineTime(n.Deadline),
		})
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("subscriber: listen stream: %w", err)
	}
	return ctx.Err()
}

// dispatch routes one notice to its handler. Prepare handlers run under the
// notice deadline and their verdict is sent back on the Ack procedure.
func (c *Client) dispatch(ctx context.Context, h Handlers, n Notice) {
	switch n.Directive {
	case busproto.DirectivePrepare:
		c.handlePrepare(ctx, h.Prepare, n)
	case busproto.DirectiveAbort:
		if h.Abort != nil {
			h.Abort(ctx, n)
		}
	case busproto.DirectiveResume:
		if h.Resume != nil {
			h.Resume(ctx, n)
		}
	case busproto.DirectiveReinit:
		if h.Reinit != nil {
			h.Reinit(ctx, n)
		}
	}
}

func (c *Client) handlePrepare(ctx context.Context, prepare func(context.Context, Notice) error, n Notice) {
	prepareCtx := ctx
	if !n.Deadline.IsZero() {
		var cancel context.CancelFunc
		prepareCtx, cancel = context.WithDeadline(ctx, n.Deadline)
		defer cancel()
	}

	var prepErr error
	if prepare != nil {
		prepErr = prepare(prepareCtx, n)
	}

	req := &busproto.AckRequest{
		SubscriberID: c.subscriberID,
		CycleID:      n.CycleID,
		Ready:        prepErr == nil,
	}
	if prepErr != nil {
		req.Reason = prepErr.Error()
	}

	resp, err := c.ack.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		c.logger.Error("acknowledgement delivery failed",
			"cycle_id", n.CycleID,
			"error", err)
		return
	}
	if !resp.Msg.Accepted {
		c.logger.Warn("acknowledgement arrived too late",
			"cycle_id", n.CycleID,
			"ready", req.Ready)
	}
}

// TriggerSuspend asks the daemon to run a suspend cycle and returns the
// finished cycle record.
func (c *Client) TriggerSuspend(ctx context.Context, reason string) (*busproto.CycleSummary, error) {
	resp, err := c.trigger.CallUnary(ctx, connect.NewRequest(&busproto.TriggerSuspendRequest{
		Requester: c.cfg.Name,
		Reason:    reason,
	}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Cycle, nil
}

// Status returns the daemon's point-in-time snapshot.
func (c *Client) Status(ctx context.Context) (*busproto.StatusResponse, error) {
	resp, err := c.status.CallUnary(ctx, connect.NewRequest(&busproto.StatusRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Unregister removes the registration from the bus.
func (c *Client) Unregister(ctx context.Context) error {
	if c.subscriberID == "" {
		return nil
	}
	_, err := c.unregister.CallUnary(ctx, connect.NewRequest(&busproto.UnregisterRequest{
		SubscriberID: c.subscriberID,
	}))
	if err != nil {
		return fmt.Errorf("subscriber: unregister: %w", err)
	}
	c.subscriberID = ""
	return nil
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func deadlineTime(unixMilli int64) time.Time {
	if unixMilli == 0 {
		return time.Time{}
	}
	return time.UnixMilli(unixMilli)
}
