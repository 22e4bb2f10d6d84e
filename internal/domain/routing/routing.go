// Package routing defines the values exchanged between chat adapters and the
// hub, and the addressing rule adapters use to filter outbound events.
package routing

import "fmt"

// Origin identifies one adapter (or one connection of an adapter).
type Origin string

// AddressKind selects how an Event's recipients are chosen.
type AddressKind int

const (
	// ToAll addresses every adapter.
	ToAll AddressKind = iota
	// ToOnly addresses exactly one origin.
	ToOnly
	// ToAllBut addresses every origin except one.
	ToAllBut
)

// Address is the recipient set of an Event.
type Address struct {
	Kind   AddressKind
	Origin Origin
}

// All addresses every adapter.
func All() Address { return Address{Kind: ToAll} }

// Only addresses origin alone.
func Only(origin Origin) Address { return Address{Kind: ToOnly, Origin: origin} }

// Not addresses everyone except origin.
func Not(origin Origin) Address { return Address{Kind: ToAllBut, Origin: origin} }

func (a Address) String() string {
	switch a.Kind {
	case ToAll:
		return "all"
	case ToOnly:
		return fmt.Sprintf("only(%s)", a.Origin)
	case ToAllBut:
		return fmt.Sprintf("not(%s)", a.Origin)
	default:
		return fmt.Sprintf("address(%d)", int(a.Kind))
	}
}

// IsAddressed reports whether candidate should render an event sent to to.
func IsAddressed(to Address, candidate Origin) bool {
	switch to.Kind {
	case ToAll:
		return true
	case ToOnly:
		return candidate == to.Origin
	case ToAllBut:
		return candidate != to.Origin
	default:
		return false
	}
}

// Feedback acknowledges that a request's command was applied.
type Feedback int

const (
	FeedbackOK Feedback = iota
)

// NewFeedback returns a one-shot feedback channel. Its single slot means the
// hub's send never blocks, whether or not anyone is still waiting.
func NewFeedback() chan Feedback {
	return make(chan Feedback, 1)
}

// Request is one inbound chat message handed to the hub by an adapter.
type Request struct {
	ID       string
	Origin   Origin
	Message  string
	Sender   string
	Feedback chan<- Feedback // optional
}

// Acknowledge delivers f on the request's feedback channel if one is
// attached and it has room. It never blocks and reports whether f was sent.
func (r Request) Acknowledge(f Feedback) bool {
	if r.Feedback == nil {
		return false
	}
	select {
	case r.Feedback <- f:
		return true
	default:
		return false
	}
}

// Event is one outbound notification. The hub hands every Event to every
// adapter; each adapter renders only those addressed to it.
type Event struct {
	To      Address
	Message string
}
