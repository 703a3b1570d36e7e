package busproto

import "fmt"

// Procedure paths of the bus service. Connect routes on the full
// "/package.Service/Method" form.
const (
	ServiceName = "quiesce.bus.v1.BusService"

	RegisterProcedure       = "/" + ServiceName + "/Register"
	UnregisterProcedure     = "/" + ServiceName + "/Unregister"
	AckProcedure            = "/" + ServiceName + "/Ack"
	TriggerSuspendProcedure = "/" + ServiceName + "/TriggerSuspend"
	StatusProcedure         = "/" + ServiceName + "/Status"
	ListenProcedure         = "/" + ServiceName + "/Listen"
)

// Order is the broadcast class a subscriber registers under. Early
// suspends first and resumes last. The zero value is deliberately not a
// class: an absent field registers as OrderNormal, so clients that never
// set it get the default behavior.
type Order uint8

const (
	// OrderUnset is the wire zero value; the daemon registers it as
	// OrderNormal.
	OrderUnset  Order = 0
	OrderEarly  Order = 1
	OrderNormal Order = 2
	OrderLate   Order = 3
)

// String returns the order class name.
func (o Order) String() string {
	switch o {
	case OrderUnset, OrderNormal:
		return "normal"
	case OrderEarly:
		return "early"
	case OrderLate:
		return "late"
	default:
		return fmt.Sprintf("order(%d)", uint8(o))
	}
}

// Directive is what a notice tells the subscriber to do.
type Directive uint8

const (
	// DirectivePrepare asks the subscriber to quiesce and acknowledge via
	// the Ack procedure before the notice deadline.
	DirectivePrepare Directive = 0

	// DirectiveAbort cancels a prepare the subscriber already acknowledged.
	// No answer is expected.
	DirectiveAbort Directive = 1

	// DirectiveResume announces a validated wake. No answer is expected.
	DirectiveResume Directive = 2

	// DirectiveReinit tells the subscriber to rebuild from scratch, as it
	// would on a cold boot. No answer is expected.
	DirectiveReinit Directive = 3
)

// String returns the directive name.
func (d Directive) String() string {
	switch d {
	case DirectivePrepare:
		return "prepare"
	case DirectiveAbort:
		return "abort"
	case DirectiveResume:
		return "resume"
	case DirectiveReinit:
		return "reinit"
	default:
		return fmt.Sprintf("directive(%d)", uint8(d))
	}
}

// RegisterRequest registers a subscriber on the bus.
//
// CBOR encoding:
//
//	{
//	  1: name,     // tstr: subscriber identity, unique on the bus
//	  2: order,    // uint8: broadcast class
//	  3: opcode    // uint32: opaque tag echoed in every notice
//	}
type RegisterRequest struct {
	Name   string `cbor:"1,keyasint"`
	Order  Order  `cbor:"2,keyasint,omitempty"`
	Opcode uint32 `cbor:"3,keyasint,omitempty"`
}

// RegisterResponse carries the registration identity. Re-registering the
// same name returns the original SubscriberID and Seq with Created false.
type RegisterResponse struct {
	SubscriberID string `cbor:"1,keyasint"`
	Seq          uint64 `cbor:"2,keyasint"`
	Created      bool   `cbor:"3,keyasint,omitempty"`
}

// UnregisterRequest removes a registration.
type UnregisterRequest struct {
	SubscriberID string `cbor:"1,keyasint"`
}

// UnregisterResponse acknowledges an unregister. Removed is false when the
// registration did not exist, which is not an error.
type UnregisterResponse struct {
	Removed bool `cbor:"1,keyasint,omitempty"`
}

// AckRequest answers a prepare notice.
//
// CBOR encoding:
//
//	{
//	  1: subscriberId,  // tstr
//	  2: cycleId,       // tstr: must match the notice's cycle
//	  3: ready,         // bool
//	  4: reason         // tstr: veto reason when ready is false
//	}
type AckRequest struct {
	SubscriberID string `cbor:"1,keyasint"`
	CycleID      string `cbor:"2,keyasint"`
	Ready        bool   `cbor:"3,keyasint,omitempty"`
	Reason       string `cbor:"4,keyasint,omitempty"`
}

// AckResponse reports whether the acknowledgement was still wanted.
// Accepted is false when the answer arrived after its deadline or for a
// cycle that is no longer collecting.
type AckResponse struct {
	Accepted bool `cbor:"1,keyasint,omitempty"`
}

// TriggerSuspendRequest starts a suspend cycle.
type TriggerSuspendRequest struct {
	Requester string `cbor:"1,keyasint"`
	Reason    string `cbor:"2,keyasint,omitempty"`
}

// TriggerSuspendResponse carries the finished cycle record. When the cycle
// failed, the record's outcome and reason fields say why; the RPC itself
// errors only for malformed requests or a busy orchestrator.
type TriggerSuspendResponse struct {
	Cycle *CycleSummary `cbor:"1,keyasint,omitempty"`
}

// CycleSummary is the wire form of one suspend cycle's outcome.
type CycleSummary struct {
	ID               string `cbor:"1,keyasint"`
	Epoch            uint64 `cbor:"2,keyasint,omitempty"`
	Outcome          string `cbor:"3,keyasint"`
	FailedSubscriber string `cbor:"4,keyasint,omitempty"`
	DenyReason       string `cbor:"5,keyasint,omitempty"`
	Acked            int    `cbor:"6,keyasint,omitempty"`
	Notified         int    `cbor:"7,keyasint,omitempty"`
	StartedAt        int64  `cbor:"8,keyasint,omitempty"`
	EndedAt          int64  `cbor:"9,keyasint,omitempty"`
}

// StatusRequest asks for a daemon snapshot.
type StatusRequest struct{}

// StatusResponse is a point-in-time snapshot of the daemon.
type StatusResponse struct {
	State       string        `cbor:"1,keyasint"`
	Epoch       uint64        `cbor:"2,keyasint,omitempty"`
	Subscribers int           `cbor:"3,keyasint,omitempty"`
	GatewayKind string        `cbor:"4,keyasint,omitempty"`
	SwapEnabled bool          `cbor:"5,keyasint,omitempty"`
	LastCycle   *CycleSummary `cbor:"6,keyasint,omitempty"`
}

// ListenRequest opens the notification stream for a registration. The
// stream stays open until either side closes it; every directive of every
// cycle the subscriber participates in arrives as a Notice.
type ListenRequest struct {
	SubscriberID string `cbor:"1,keyasint"`
}

// Notice is one notification delivered on a Listen stream.
//
// CBOR encoding:
//
//	{
//	  1: cycleId,    // tstr
//	  2: epoch,      // uint64
//	  3: directive,  // uint8
//	  4: opcode,     // uint32: echoed from registration
//	  5: deadline    // int64 Unix ms: ack due time, prepare only
//	}
type Notice struct {
	CycleID   string    `cbor:"1,keyasint"`
	Epoch     uint64    `cbor:"2,keyasint,omitempty"`
	Directive Directive `cbor:"3,keyasint"`
	Opcode    uint32    `cbor:"4,keyasint,omitempty"`
	Deadline  int64     `cbor:"5,keyasint,omitempty"`
}

// Validate checks the fields every notice must carry.
func (n *Notice) Validate() error {
	if n.CycleID == "" {
		return fmt.Errorf("notice missing cycle id")
	}
	if n.Directive > DirectiveReinit {
		return fmt.Errorf("unknown directive %d", n.Directive)
	}
	return nil
}
