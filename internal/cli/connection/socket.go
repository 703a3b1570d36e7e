package connection

import (
	"github.com/veridios/quiesce-go/pkg/busproto"
	"github.com/veridios/quiesce-go/pkg/subscriber"
)

// BusName is the identity quiescectl presents on the bus. Trigger and
// status calls are unary and need no registration, so the name only
// shows up as the requester of triggered cycles.
const BusName = "net.veridios.quiescectl"

// DialBus creates a bus socket client for the daemon.
func DialBus(socketPath string) (*subscriber.Client, error) {
	return subscriber.Dial(subscriber.Config{
		SocketPath: socketPath,
		Name:       BusName,
		Order:      busproto.OrderLate,
	})
}
