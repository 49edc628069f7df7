package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the code and length prefix.
const HeaderLen = 4

// MaxPayload is the largest payload a frame can carry.
const MaxPayload = 0xffff

var (
	// ErrFrameTooLarge is returned when a payload does not fit a 16-bit length.
	ErrFrameTooLarge = errors.New("frame payload too large")
	// ErrShortBuffer is returned when a payload ends before a field is complete.
	ErrShortBuffer = errors.New("payload too short")
)

// Frame is the atomic unit of the protocol.
type Frame struct {
	Code    uint16
	Payload []byte
}

// Len returns the encoded size of the frame.
func (f Frame) Len() int {
	return HeaderLen + len(f.Payload)
}

// String renders the frame header for logs.
func (f Frame) String() string {
	return fmt.Sprintf("%s(%d)", CodeString(f.Code), len(f.Payload))
}

// Bytes encodes the frame.
func (f Frame) Bytes() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, HeaderLen+len(f.Payload))
	binary.BigEndian.PutUint16(buf[0:2], f.Code)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(f.Payload)))
	copy(buf[HeaderLen:], f.Payload)
	return buf, nil
}

// ReadFrame reads exactly one frame from r.
// The returned payload is owned by the caller.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	f := Frame{Code: binary.BigEndian.Uint16(hdr[0:2])}
	n := binary.BigEndian.Uint16(hdr[2:4])
	if n == 0 {
		return f, nil
	}
	f.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, fmt.Errorf("reading %s payload: %w", CodeString(f.Code), err)
	}
	return f, nil
}

// WriteFrame writes f to w in a single call.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := f.Bytes()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
