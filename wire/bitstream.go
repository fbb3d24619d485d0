// Package wire implements the RTPS wire codec: message headers, submessage
// headers/bodies, CDR payload framing, and PL_CDR parameter lists, per
// spec.md §4.1 and §6.
//
// The low-level reader/writer here is adapted from the teacher's BitStream
// (source/protocol/raknet.go), generalized to carry an explicit endianness
// (RTPS submessages flag their own byte order) instead of RakNet's
// fixed big-endian/SA-MP little-endian mix.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Endian selects the byte order used to decode/encode a submessage's
// multi-byte fields, set per-submessage by the endianness flag bit
// (spec.md §4.1, §9 "Endianness").
type Endian bool

const (
	BigEndian    Endian = false
	LittleEndian Endian = true
)

func (e Endian) order() binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// ErrBufferOverflow is returned by every Reader method that would read past
// the end of the buffer.
var ErrBufferOverflow = fmt.Errorf("wire: buffer overflow")

// Reader consumes a byte slice field by field, tracking endianness and
// offset. It never panics: every read returns an error on underrun.
type Reader struct {
	data   []byte
	offset int
	endian Endian
}

func NewReader(data []byte, endian Endian) *Reader {
	return &Reader{data: data, endian: endian}
}

func (r *Reader) SetEndian(e Endian) { r.endian = e }
func (r *Reader) Endian() Endian     { return r.endian }
func (r *Reader) Offset() int        { return r.offset }
func (r *Reader) Len() int           { return len(r.data) }
func (r *Reader) Remaining() int     { return len(r.data) - r.offset }

func (r *Reader) Skip(n int) error {
	if r.offset+n > len(r.data) || n < 0 {
		return ErrBufferOverflow
	}
	r.offset += n
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if r.offset >= len(r.data) {
		return 0, ErrBufferOverflow
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrBufferOverflow
	}
	out := make([]byte, n)
	copy(out, r.data[r.offset:r.offset+n])
	r.offset += n
	return out, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return r.endian.order().Uint16(b), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return r.endian.order().Uint32(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return r.endian.order().Uint64(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// Align pads the read offset up to the given alignment boundary relative to
// the start of the buffer, as CDR requires (4-byte alignment for the
// payload body, following the 4-byte representation-id+options header).
func (r *Reader) Align(boundary int) error {
	rem := r.offset % boundary
	if rem == 0 {
		return nil
	}
	return r.Skip(boundary - rem)
}

func (r *Reader) ReadString() (string, error) {
	// CDR strings: uint32 length (including terminating NUL), then bytes.
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b), nil
}

// Writer accumulates bytes with a chosen endianness, adapted from the
// teacher's BitStream.Write* helpers.
type Writer struct {
	data   []byte
	endian Endian
}

func NewWriter(endian Endian) *Writer {
	return &Writer{endian: endian}
}

func (w *Writer) Endian() Endian   { return w.endian }
func (w *Writer) Bytes() []byte    { return w.data }
func (w *Writer) Len() int         { return len(w.data) }
func (w *Writer) WriteByte(b byte) { w.data = append(w.data, b) }

func (w *Writer) WriteBytes(b []byte) { w.data = append(w.data, b...) }

func (w *Writer) WriteUint16(v uint16) {
	var buf [2]byte
	w.endian.order().PutUint16(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) {
	var buf [4]byte
	w.endian.order().PutUint32(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) {
	var buf [8]byte
	w.endian.order().PutUint64(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

// Pad writes zero bytes until the buffer length is a multiple of boundary.
func (w *Writer) Pad(boundary int) {
	rem := len(w.data) % boundary
	if rem == 0 {
		return
	}
	for i := 0; i < boundary-rem; i++ {
		w.data = append(w.data, 0)
	}
}

func (w *Writer) WriteString(s string) {
	padded := s + "\x00"
	w.WriteUint32(uint32(len(padded)))
	w.data = append(w.data, []byte(padded)...)
}
