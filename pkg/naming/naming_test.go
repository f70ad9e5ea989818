package naming

import (
	"sort"
	"testing"

	"github.com/hpcgrid/meridian/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip verifies decode(encode(a)) == a for representative addresses
func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		addr GlobalAddress
	}{
		{name: "zero address", addr: GlobalAddress{}},
		{name: "root runtime", addr: New(types.RootLocality, 1, types.ComponentRuntime)},
		{name: "subordinate agas", addr: New(7, 42, types.ComponentAGAS)},
		{name: "max fields", addr: New(types.LocalityID(1<<32-1), 1<<64-1, types.ComponentType(1<<32-1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.addr.Encode()
			require.Len(t, buf, EncodedSize)

			decoded, err := Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, decoded)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{name: "nil", buf: nil},
		{name: "empty", buf: []byte{}},
		{name: "short", buf: make([]byte, EncodedSize-1)},
		{name: "long", buf: make([]byte, EncodedSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf)
			require.Error(t, err)

			var decodeErr *DecodeError
			assert.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, len(tt.buf), decodeErr.Len)
		})
	}
}

// TestEqualityIgnoresComponent verifies component type is metadata, not identity
func TestEqualityIgnoresComponent(t *testing.T) {
	a := New(3, 99, types.ComponentRuntime)
	b := New(3, 99, types.ComponentUser)
	c := New(3, 100, types.ComponentRuntime)

	assert.True(t, a.Equal(b), "same locality and handle must be equal regardless of component")
	assert.False(t, a.Equal(c))
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestOrdering(t *testing.T) {
	addrs := []GlobalAddress{
		New(2, 1, 0),
		New(0, 5, 0),
		New(1, 7, 2),
		New(1, 7, 1),
		New(0, 1, 0),
		New(1, 2, 0),
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	want := []GlobalAddress{
		New(0, 1, 0),
		New(0, 5, 0),
		New(1, 2, 0),
		New(1, 7, 1),
		New(1, 7, 2),
		New(2, 1, 0),
	}
	assert.Equal(t, want, addrs)

	// Compare is antisymmetric and zero on self
	for _, a := range addrs {
		assert.Equal(t, 0, a.Compare(a))
	}
	assert.Equal(t, -1, New(0, 1, 0).Compare(New(0, 1, 1)))
	assert.Equal(t, 1, New(0, 1, 1).Compare(New(0, 1, 0)))
}

func TestString(t *testing.T) {
	assert.Equal(t, "L3/42#2", New(3, 42, types.ComponentAGAS).String())
}
