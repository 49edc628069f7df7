package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Vec3 is a position or velocity in world units.
type Vec3 [3]float32

// Packer appends network-byte-order values to a buffer.
type Packer struct {
	buf []byte
}

// NewPacker returns a Packer with room for size bytes.
func NewPacker(size int) *Packer {
	return &Packer{buf: make([]byte, 0, size)}
}

// Bytes returns the packed payload.
func (p *Packer) Bytes() []byte {
	return p.buf
}

// Len returns the number of packed bytes.
func (p *Packer) Len() int {
	return len(p.buf)
}

func (p *Packer) Uint8(v uint8) *Packer {
	p.buf = append(p.buf, v)
	return p
}

func (p *Packer) Uint16(v uint16) *Packer {
	p.buf = binary.BigEndian.AppendUint16(p.buf, v)
	return p
}

func (p *Packer) Uint32(v uint32) *Packer {
	p.buf = binary.BigEndian.AppendUint32(p.buf, v)
	return p
}

func (p *Packer) Float32(v float32) *Packer {
	return p.Uint32(math.Float32bits(v))
}

func (p *Packer) Vec3(v Vec3) *Packer {
	return p.Float32(v[0]).Float32(v[1]).Float32(v[2])
}

// String packs s into a zero-padded field of n bytes, truncating if needed.
func (p *Packer) String(s string, n int) *Packer {
	field := make([]byte, n)
	copy(field, s)
	p.buf = append(p.buf, field...)
	return p
}

// Raw appends b unchanged.
func (p *Packer) Raw(b []byte) *Packer {
	p.buf = append(p.buf, b...)
	return p
}

// Unpacker reads network-byte-order values from a payload.
// The first failed read sets Err and every later read returns zero values.
type Unpacker struct {
	buf []byte
	off int
	Err error
}

// NewUnpacker returns an Unpacker over b.
func NewUnpacker(b []byte) *Unpacker {
	return &Unpacker{buf: b}
}

// Remaining returns the number of unread bytes.
func (u *Unpacker) Remaining() int {
	return len(u.buf) - u.off
}

func (u *Unpacker) take(n int) []byte {
	if u.Err != nil {
		return nil
	}
	if u.Remaining() < n {
		u.Err = ErrShortBuffer
		return nil
	}
	b := u.buf[u.off : u.off+n]
	u.off += n
	return b
}

func (u *Unpacker) Uint8() uint8 {
	b := u.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (u *Unpacker) Uint16() uint16 {
	b := u.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (u *Unpacker) Uint32() uint32 {
	b := u.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (u *Unpacker) Float32() float32 {
	return math.Float32frombits(u.Uint32())
}

func (u *Unpacker) Vec3() Vec3 {
	return Vec3{u.Float32(), u.Float32(), u.Float32()}
}

// String reads a zero-padded field of n bytes.
func (u *Unpacker) String(n int) string {
	b := u.take(n)
	if b == nil {
		return ""
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Raw reads n bytes without copying.
func (u *Unpacker) Raw(n int) []byte {
	return u.take(n)
}
