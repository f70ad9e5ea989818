package naming

import (
	"encoding/binary"
	"fmt"

	"github.com/hpcgrid/meridian/pkg/types"
)

// EncodedSize is the wire size of an encoded GlobalAddress in bytes.
const EncodedSize = 16

// GlobalAddress identifies an addressable entity anywhere in the cluster. It
// is an immutable value: it carries no ownership of the entity it names, only
// a back-reference to the owning locality and the entity's handle there.
//
// Two addresses are equal iff Locality and Handle match. Component is
// metadata used for dispatch and never participates in equality.
type GlobalAddress struct {
	Locality  types.LocalityID
	Handle    uint64
	Component types.ComponentType
}

// New constructs a GlobalAddress.
func New(locality types.LocalityID, handle uint64, component types.ComponentType) GlobalAddress {
	return GlobalAddress{Locality: locality, Handle: handle, Component: component}
}

// Key is the identity portion of a GlobalAddress, suitable as a map key.
type Key struct {
	Locality types.LocalityID
	Handle   uint64
}

// Key returns the identity portion of the address.
func (a GlobalAddress) Key() Key {
	return Key{Locality: a.Locality, Handle: a.Handle}
}

// Equal reports whether a and b name the same entity.
func (a GlobalAddress) Equal(b GlobalAddress) bool {
	return a.Locality == b.Locality && a.Handle == b.Handle
}

// Compare imposes a total order on addresses, following the byte order of the
// encoded form: locality first, then handle, then component type.
func (a GlobalAddress) Compare(b GlobalAddress) int {
	switch {
	case a.Locality != b.Locality:
		if a.Locality < b.Locality {
			return -1
		}
		return 1
	case a.Handle != b.Handle:
		if a.Handle < b.Handle {
			return -1
		}
		return 1
	case a.Component != b.Component:
		if a.Component < b.Component {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether a orders before b.
func (a GlobalAddress) Less(b GlobalAddress) bool {
	return a.Compare(b) < 0
}

// Encode serializes the address to its fixed 16-byte big-endian wire form.
func (a GlobalAddress) Encode() []byte {
	buf := make([]byte, EncodedSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(a.Locality))
	binary.BigEndian.PutUint64(buf[4:12], a.Handle)
	binary.BigEndian.PutUint32(buf[12:16], uint32(a.Component))
	return buf
}

// DecodeError reports malformed global address bytes.
type DecodeError struct {
	Len int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode global address from %d bytes, want %d", e.Len, EncodedSize)
}

// Decode parses the wire form produced by Encode. For every valid address a,
// Decode(a.Encode()) returns a.
func Decode(buf []byte) (GlobalAddress, error) {
	if len(buf) != EncodedSize {
		return GlobalAddress{}, &DecodeError{Len: len(buf)}
	}
	return GlobalAddress{
		Locality:  types.LocalityID(binary.BigEndian.Uint32(buf[0:4])),
		Handle:    binary.BigEndian.Uint64(buf[4:12]),
		Component: types.ComponentType(binary.BigEndian.Uint32(buf[12:16])),
	}, nil
}

// String renders the address for logs as "L<locality>/<handle>#<component>".
func (a GlobalAddress) String() string {
	return fmt.Sprintf("L%d/%d#%d", a.Locality, a.Handle, a.Component)
}
