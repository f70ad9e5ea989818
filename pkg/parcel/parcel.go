package parcel

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hpcgrid/meridian/pkg/naming"
	"github.com/hpcgrid/meridian/pkg/types"
)

// Type discriminates the bootstrap protocol messages carried between
// localities.
type Type string

const (
	// TypeRegister is a subordinate's registration request to the root AGAS.
	TypeRegister Type = "agas.register"

	// TypeRegisterAck is the root's acknowledgement, released to every
	// registered subordinate once the expected locality count is reached.
	TypeRegisterAck Type = "agas.register.ack"

	// TypeRegisterNack rejects a registration; the reason rides in Err.
	TypeRegisterNack Type = "agas.register.nack"

	// TypeResolveRequest asks the root to resolve an encoded global address.
	TypeResolveRequest Type = "agas.resolve.request"

	// TypeResolveReply answers a resolve request, matched by parcel ID.
	TypeResolveReply Type = "agas.resolve.reply"
)

// Parcel is one message between localities. The envelope is deliberately
// flat: one codec pass on the wire, no nested payload framing.
type Parcel struct {
	// ID is unique per parcel. Replies reuse the ID of the request they
	// answer.
	ID     string
	Type   Type
	Source types.LocalityID

	// Target is the encoded global address of the destination entity
	// (naming.EncodedSize bytes).
	Target []byte

	// Endpoint is the sender's parcelport endpoint, for messages that need
	// an answer delivered back.
	Endpoint string

	// Handle and Component describe the registering entity (registration)
	// or the resolved entity (resolve reply).
	Handle    uint64
	Component uint32

	// Query is the encoded global address being resolved.
	Query []byte

	// Found reports a successful resolution on a resolve reply.
	Found bool

	// Err carries the failure detail on a nack.
	Err string
}

// NewParcel constructs an envelope with a fresh ID.
func NewParcel(t Type, source types.LocalityID, target naming.GlobalAddress) *Parcel {
	return &Parcel{
		ID:     uuid.New().String(),
		Type:   t,
		Source: source,
		Target: target.Encode(),
	}
}

// TargetAddress decodes the destination address of the parcel.
func (p *Parcel) TargetAddress() (naming.GlobalAddress, error) {
	return naming.Decode(p.Target)
}

// SendError reports a failure to hand a parcel to the transport. It is fatal
// to the apply it aborts; resolution of whether to retry lives with whatever
// supervises the process.
type SendError struct {
	Endpoint string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send parcel to %s: %v", e.Endpoint, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
