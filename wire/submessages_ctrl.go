package wire

import (
	"fmt"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/seqnum"
)

func readEntityID(r *Reader) (guid.EntityID, error) {
	b, err := r.ReadBytes(guid.EntityIDLength)
	if err != nil {
		return guid.EntityID{}, err
	}
	var e guid.EntityID
	copy(e[:], b)
	return e, nil
}

func writeEntityID(w *Writer, e guid.EntityID) { w.WriteBytes(e[:]) }

func readSequenceNumber(r *Reader) (seqnum.SequenceNumber, error) {
	hi, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	lo, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return seqnum.SequenceNumber(int64(hi)<<32 | int64(lo)), nil
}

func writeSequenceNumber(w *Writer, sn seqnum.SequenceNumber) {
	w.WriteInt32(int32(int64(sn) >> 32))
	w.WriteUint32(uint32(int64(sn)))
}

func readSequenceNumberSet(r *Reader) (seqnum.Set, error) {
	base, err := readSequenceNumber(r)
	if err != nil {
		return seqnum.Set{}, err
	}
	numBits, err := r.ReadUint32()
	if err != nil {
		return seqnum.Set{}, err
	}
	if numBits > seqnum.MaxBitmapEntries {
		return seqnum.Set{}, fmt.Errorf("wire: sequence number set bitmap of %d exceeds %d", numBits, seqnum.MaxBitmapEntries)
	}
	numWords := (int(numBits) + 31) / 32
	bitmap := make([]bool, numBits)
	for w := 0; w < numWords; w++ {
		word, err := r.ReadUint32()
		if err != nil {
			return seqnum.Set{}, err
		}
		for bit := 0; bit < 32; bit++ {
			idx := w*32 + bit
			if idx >= int(numBits) {
				break
			}
			// MSB-first within each 32-bit word, per RTPS wire layout.
			if word&(1<<(31-uint(bit))) != 0 {
				bitmap[idx] = true
			}
		}
	}
	return seqnum.Set{Base: base, Bitmap: bitmap}, nil
}

func writeSequenceNumberSet(w *Writer, s seqnum.Set) {
	writeSequenceNumber(w, s.Base)
	numBits := uint32(len(s.Bitmap))
	w.WriteUint32(numBits)
	numWords := (int(numBits) + 31) / 32
	for i := 0; i < numWords; i++ {
		var word uint32
		for bit := 0; bit < 32; bit++ {
			idx := i*32 + bit
			if idx >= len(s.Bitmap) {
				break
			}
			if s.Bitmap[idx] {
				word |= 1 << (31 - uint(bit))
			}
		}
		w.WriteUint32(word)
	}
}

// Heartbeat announces a writer's available sequence number range.
type Heartbeat struct {
	ReaderID    guid.EntityID
	WriterID    guid.EntityID
	FirstSN     seqnum.SequenceNumber
	LastSN      seqnum.SequenceNumber
	Count       uint32
	Final       bool
	Liveliness  bool
}

const (
	heartbeatFlagFinal      byte = 0x02
	heartbeatFlagLiveliness byte = 0x04
)

func DecodeHeartbeat(body []byte, endian Endian, flags byte) (Heartbeat, error) {
	r := NewReader(body, endian)
	h := Heartbeat{
		Final:      flags&heartbeatFlagFinal != 0,
		Liveliness: flags&heartbeatFlagLiveliness != 0,
	}
	var err error
	if h.ReaderID, err = readEntityID(r); err != nil {
		return Heartbeat{}, err
	}
	if h.WriterID, err = readEntityID(r); err != nil {
		return Heartbeat{}, err
	}
	if h.FirstSN, err = readSequenceNumber(r); err != nil {
		return Heartbeat{}, err
	}
	if h.LastSN, err = readSequenceNumber(r); err != nil {
		return Heartbeat{}, err
	}
	count, err := r.ReadUint32()
	if err != nil {
		return Heartbeat{}, err
	}
	h.Count = count
	return h, nil
}

func EncodeHeartbeat(h Heartbeat, endian Endian) EncodedSubmessage {
	w := NewWriter(endian)
	writeEntityID(w, h.ReaderID)
	writeEntityID(w, h.WriterID)
	writeSequenceNumber(w, h.FirstSN)
	writeSequenceNumber(w, h.LastSN)
	w.WriteUint32(h.Count)
	flags := byte(0)
	if h.Final {
		flags |= heartbeatFlagFinal
	}
	if h.Liveliness {
		flags |= heartbeatFlagLiveliness
	}
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	return encodeWithHeader(KindHeartbeat, flags, w.Bytes())
}

// AckNack is the reader's feedback: what it has and what it is missing.
type AckNack struct {
	ReaderID    guid.EntityID
	WriterID    guid.EntityID
	ReaderSNSet seqnum.Set
	Count       uint32
	Final       bool
}

const ackNackFlagFinal byte = 0x02

func DecodeAckNack(body []byte, endian Endian, flags byte) (AckNack, error) {
	r := NewReader(body, endian)
	a := AckNack{Final: flags&ackNackFlagFinal != 0}
	var err error
	if a.ReaderID, err = readEntityID(r); err != nil {
		return AckNack{}, err
	}
	if a.WriterID, err = readEntityID(r); err != nil {
		return AckNack{}, err
	}
	if a.ReaderSNSet, err = readSequenceNumberSet(r); err != nil {
		return AckNack{}, err
	}
	count, err := r.ReadUint32()
	if err != nil {
		return AckNack{}, err
	}
	a.Count = count
	return a, nil
}

func EncodeAckNack(a AckNack, endian Endian) EncodedSubmessage {
	w := NewWriter(endian)
	writeEntityID(w, a.ReaderID)
	writeEntityID(w, a.WriterID)
	writeSequenceNumberSet(w, a.ReaderSNSet)
	w.WriteUint32(a.Count)
	flags := byte(0)
	if a.Final {
		flags |= ackNackFlagFinal
	}
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	return encodeWithHeader(KindAckNack, flags, w.Bytes())
}

// Gap tells a reader that a range/set of sequence numbers is irrelevant.
type Gap struct {
	ReaderID guid.EntityID
	WriterID guid.EntityID
	GapStart seqnum.SequenceNumber
	GapList  seqnum.Set
}

func DecodeGap(body []byte, endian Endian) (Gap, error) {
	r := NewReader(body, endian)
	g := Gap{}
	var err error
	if g.ReaderID, err = readEntityID(r); err != nil {
		return Gap{}, err
	}
	if g.WriterID, err = readEntityID(r); err != nil {
		return Gap{}, err
	}
	if g.GapStart, err = readSequenceNumber(r); err != nil {
		return Gap{}, err
	}
	if g.GapList, err = readSequenceNumberSet(r); err != nil {
		return Gap{}, err
	}
	return g, nil
}

func EncodeGap(g Gap, endian Endian) EncodedSubmessage {
	w := NewWriter(endian)
	writeEntityID(w, g.ReaderID)
	writeEntityID(w, g.WriterID)
	writeSequenceNumber(w, g.GapStart)
	writeSequenceNumberSet(w, g.GapList)
	flags := byte(0)
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	return encodeWithHeader(KindGap, flags, w.Bytes())
}

// InfoTS carries a timestamp applying to following submessages.
type InfoTS struct {
	Invalidate bool
	Seconds    uint32
	Fraction   uint32
}

const infoTSFlagInvalidate byte = 0x02

func DecodeInfoTS(body []byte, endian Endian, flags byte) (InfoTS, error) {
	t := InfoTS{Invalidate: flags&infoTSFlagInvalidate != 0}
	if t.Invalidate {
		return t, nil
	}
	r := NewReader(body, endian)
	var err error
	if t.Seconds, err = r.ReadUint32(); err != nil {
		return InfoTS{}, err
	}
	if t.Fraction, err = r.ReadUint32(); err != nil {
		return InfoTS{}, err
	}
	return t, nil
}

func EncodeInfoTS(t InfoTS, endian Endian) EncodedSubmessage {
	w := NewWriter(endian)
	flags := byte(0)
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	if t.Invalidate {
		flags |= infoTSFlagInvalidate
		return encodeWithHeader(KindInfoTS, flags, nil)
	}
	w.WriteUint32(t.Seconds)
	w.WriteUint32(t.Fraction)
	return encodeWithHeader(KindInfoTS, flags, w.Bytes())
}

// InfoDst carries the destination participant's GUID prefix.
type InfoDst struct {
	GuidPrefix guid.Prefix
}

func DecodeInfoDst(body []byte) (InfoDst, error) {
	if len(body) < guid.PrefixLength {
		return InfoDst{}, ErrBufferOverflow
	}
	var d InfoDst
	copy(d.GuidPrefix[:], body[:guid.PrefixLength])
	return d, nil
}

func EncodeInfoDst(d InfoDst, endian Endian) EncodedSubmessage {
	flags := byte(0)
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	return encodeWithHeader(KindInfoDst, flags, d.GuidPrefix[:])
}

// InfoSrc carries the source participant's protocol/vendor/guid-prefix.
type InfoSrc struct {
	Version    ProtocolVersion
	Vendor     VendorID
	GuidPrefix guid.Prefix
}

func DecodeInfoSrc(body []byte, endian Endian) (InfoSrc, error) {
	r := NewReader(body, endian)
	if _, err := r.ReadUint32(); err != nil { // unused/reserved
		return InfoSrc{}, err
	}
	major, err := r.ReadByte()
	if err != nil {
		return InfoSrc{}, err
	}
	minor, err := r.ReadByte()
	if err != nil {
		return InfoSrc{}, err
	}
	vb, err := r.ReadBytes(2)
	if err != nil {
		return InfoSrc{}, err
	}
	prefixBytes, err := r.ReadBytes(guid.PrefixLength)
	if err != nil {
		return InfoSrc{}, err
	}
	s := InfoSrc{Version: ProtocolVersion{Major: major, Minor: minor}, Vendor: VendorID{vb[0], vb[1]}}
	copy(s.GuidPrefix[:], prefixBytes)
	return s, nil
}

func EncodeInfoSrc(s InfoSrc, endian Endian) EncodedSubmessage {
	w := NewWriter(endian)
	w.WriteUint32(0)
	w.WriteByte(s.Version.Major)
	w.WriteByte(s.Version.Minor)
	w.WriteByte(s.Vendor[0])
	w.WriteByte(s.Vendor[1])
	w.WriteBytes(s.GuidPrefix[:])
	flags := byte(0)
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	return encodeWithHeader(KindInfoSrc, flags, w.Bytes())
}

// HeartbeatFrag announces the highest fragment number a writer has
// available for a partially-sent (fragmented) sample.
type HeartbeatFrag struct {
	ReaderID    guid.EntityID
	WriterID    guid.EntityID
	WriterSN    seqnum.SequenceNumber
	LastFragNum uint32
	Count       uint32
}

func DecodeHeartbeatFrag(body []byte, endian Endian) (HeartbeatFrag, error) {
	r := NewReader(body, endian)
	h := HeartbeatFrag{}
	var err error
	if h.ReaderID, err = readEntityID(r); err != nil {
		return HeartbeatFrag{}, err
	}
	if h.WriterID, err = readEntityID(r); err != nil {
		return HeartbeatFrag{}, err
	}
	if h.WriterSN, err = readSequenceNumber(r); err != nil {
		return HeartbeatFrag{}, err
	}
	if h.LastFragNum, err = r.ReadUint32(); err != nil {
		return HeartbeatFrag{}, err
	}
	if h.Count, err = r.ReadUint32(); err != nil {
		return HeartbeatFrag{}, err
	}
	return h, nil
}

func EncodeHeartbeatFrag(h HeartbeatFrag, endian Endian) EncodedSubmessage {
	w := NewWriter(endian)
	writeEntityID(w, h.ReaderID)
	writeEntityID(w, h.WriterID)
	writeSequenceNumber(w, h.WriterSN)
	w.WriteUint32(h.LastFragNum)
	w.WriteUint32(h.Count)
	flags := byte(0)
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	return encodeWithHeader(KindHeartbeatFrag, flags, w.Bytes())
}

// NackFrag requests retransmission of specific fragments of one sample.
type NackFrag struct {
	ReaderID   guid.EntityID
	WriterID   guid.EntityID
	WriterSN   seqnum.SequenceNumber
	FragmentNumberBase uint32
	FragmentNumberBitmap []bool
	Count      uint32
}

func DecodeNackFrag(body []byte, endian Endian) (NackFrag, error) {
	r := NewReader(body, endian)
	n := NackFrag{}
	var err error
	if n.ReaderID, err = readEntityID(r); err != nil {
		return NackFrag{}, err
	}
	if n.WriterID, err = readEntityID(r); err != nil {
		return NackFrag{}, err
	}
	if n.WriterSN, err = readSequenceNumber(r); err != nil {
		return NackFrag{}, err
	}
	n.FragmentNumberBase, err = r.ReadUint32()
	if err != nil {
		return NackFrag{}, err
	}
	numBits, err := r.ReadUint32()
	if err != nil {
		return NackFrag{}, err
	}
	numWords := (int(numBits) + 31) / 32
	bitmap := make([]bool, numBits)
	for w := 0; w < numWords; w++ {
		word, err := r.ReadUint32()
		if err != nil {
			return NackFrag{}, err
		}
		for bit := 0; bit < 32; bit++ {
			idx := w*32 + bit
			if idx >= int(numBits) {
				break
			}
			if word&(1<<(31-uint(bit))) != 0 {
				bitmap[idx] = true
			}
		}
	}
	n.FragmentNumberBitmap = bitmap
	if n.Count, err = r.ReadUint32(); err != nil {
		return NackFrag{}, err
	}
	return n, nil
}

func EncodeNackFrag(n NackFrag, endian Endian) EncodedSubmessage {
	w := NewWriter(endian)
	writeEntityID(w, n.ReaderID)
	writeEntityID(w, n.WriterID)
	writeSequenceNumber(w, n.WriterSN)
	w.WriteUint32(n.FragmentNumberBase)
	numBits := uint32(len(n.FragmentNumberBitmap))
	w.WriteUint32(numBits)
	numWords := (int(numBits) + 31) / 32
	for i := 0; i < numWords; i++ {
		var word uint32
		for bit := 0; bit < 32; bit++ {
			idx := i*32 + bit
			if idx >= len(n.FragmentNumberBitmap) {
				break
			}
			if n.FragmentNumberBitmap[idx] {
				word |= 1 << (31 - uint(bit))
			}
		}
		w.WriteUint32(word)
	}
	w.WriteUint32(n.Count)
	flags := byte(0)
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	return encodeWithHeader(KindNackFrag, flags, w.Bytes())
}

// EncodePad produces a PAD submessage of the requested content length,
// which must be a multiple of 4 like every RTPS submessage body.
func EncodePad(contentLen int) EncodedSubmessage {
	body := make([]byte, contentLen)
	return encodeWithHeader(KindPad, 0, body)
}

func encodeWithHeader(kind Kind, flags byte, body []byte) EncodedSubmessage {
	w := NewWriter(BigEndian)
	encodeSubmessageHeader(w, kind, flags, uint16(len(body)))
	return append(w.Bytes(), body...)
}
