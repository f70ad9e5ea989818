package parcel

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// maxFrameSize bounds a single parcel on the wire. Bootstrap messages are
// tiny; anything larger is a corrupt or hostile frame.
const maxFrameSize = 1 << 20

var msgpackHandle = &codec.MsgpackHandle{}

// Encode serializes a parcel to its msgpack wire form, without framing.
func Encode(p *Parcel) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, msgpackHandle).Encode(p); err != nil {
		return nil, fmt.Errorf("failed to encode parcel: %w", err)
	}
	return buf, nil
}

// Decode parses the msgpack wire form produced by Encode.
func Decode(data []byte) (*Parcel, error) {
	p := &Parcel{}
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(p); err != nil {
		return nil, fmt.Errorf("failed to decode parcel: %w", err)
	}
	return p, nil
}

// WriteFrame writes one length-prefixed parcel frame to w.
func WriteFrame(w io.Writer, p *Parcel) error {
	body, err := Encode(p)
	if err != nil {
		return err
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("parcel frame of %d bytes exceeds limit", len(body))
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed parcel frame from r.
func ReadFrame(r io.Reader) (*Parcel, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 || size > maxFrameSize {
		return nil, fmt.Errorf("invalid parcel frame size %d", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	return Decode(body)
}
