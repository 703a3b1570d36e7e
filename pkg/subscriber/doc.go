// Package subscriber is the client library for processes that participate
// in suspend/resume coordination.
//
// A subscriber registers once under a stable name, then runs a loop that
// receives directives from the daemon and answers the prepare directive
// through callbacks:
//
//	client, err := subscriber.Dial(subscriber.Config{
//		SocketPath: "/run/quiesce/bus.sock",
//		Name:       "net.veridios.keyvault",
//		Order:      busproto.OrderEarly,
//	})
//	if err != nil { ... }
//	defer client.Close()
//
//	if err := client.Register(ctx); err != nil { ... }
//	err = client.Run(ctx, subscriber.Handlers{
//		Prepare: func(ctx context.Context, n subscriber.Notice) error {
//			return flushState(ctx) // nil means ready
//		},
//		Resume: func(ctx context.Context, n subscriber.Notice) {
//			reopenDevices()
//		},
//	})
//
// Returning a non-nil error from Prepare vetoes the cycle; the error text
// is reported as the veto reason. Returning nil acknowledges readiness,
// after which the process should stay quiesced until the abort or resume
// directive for the same cycle arrives.
package subscriber
