package wire

import (
	"fmt"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/seqnum"
)

const (
	dataFlagInlineQos byte = 0x02
	dataFlagData      byte = 0x04
	dataFlagKey       byte = 0x08
)

// Data carries one complete sample.
type Data struct {
	ReaderID   guid.EntityID
	WriterID   guid.EntityID
	WriterSN   seqnum.SequenceNumber
	InlineQos  []byte // raw, undecoded parameter list; empty if absent
	Payload    *SerializedPayload
	KeyOnly    bool // payload represents only the instance key (dispose/unregister)
}

func DecodeData(body []byte, endian Endian, flags byte) (Data, error) {
	r := NewReader(body, endian)
	if _, err := r.ReadUint16(); err != nil { // extraFlags, reserved
		return Data{}, err
	}
	octetsToInlineQos, err := r.ReadUint16()
	if err != nil {
		return Data{}, err
	}
	afterFlagsOffset := r.Offset()

	d := Data{KeyOnly: flags&dataFlagKey != 0}
	if d.ReaderID, err = readEntityID(r); err != nil {
		return Data{}, err
	}
	if d.WriterID, err = readEntityID(r); err != nil {
		return Data{}, err
	}
	if d.WriterSN, err = readSequenceNumber(r); err != nil {
		return Data{}, err
	}

	// Skip/consume any vendor-specific bytes between the fixed header and
	// where inlineQos/payload start, per octetsToInlineQos.
	wantOffset := afterFlagsOffset + int(octetsToInlineQos)
	if wantOffset < r.Offset() || wantOffset > len(body) {
		return Data{}, fmt.Errorf("wire: DATA octetsToInlineQos %d out of range", octetsToInlineQos)
	}
	if err := r.Skip(wantOffset - r.Offset()); err != nil {
		return Data{}, err
	}

	if flags&dataFlagInlineQos != 0 {
		qosBytes, err := decodeRawParameterList(r)
		if err != nil {
			return Data{}, fmt.Errorf("wire: DATA inline qos: %w", err)
		}
		d.InlineQos = qosBytes
	}

	if flags&dataFlagData != 0 {
		payload, err := DecodeSerializedPayload(body[r.Offset():])
		if err != nil {
			return Data{}, fmt.Errorf("wire: DATA payload: %w", err)
		}
		d.Payload = &payload
	}

	return d, nil
}

func EncodeData(d Data, endian Endian) EncodedSubmessage {
	w := NewWriter(endian)
	w.WriteUint16(0) // extraFlags
	lenPos := len(w.Bytes())
	w.WriteUint16(0) // placeholder for octetsToInlineQos
	writeEntityID(w, d.ReaderID)
	writeEntityID(w, d.WriterID)
	writeSequenceNumber(w, d.WriterSN)
	octetsToInlineQos := uint16(len(w.Bytes()) - lenPos - 2)
	patchUint16(w.Bytes(), lenPos, octetsToInlineQos, endian)

	flags := byte(0)
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	if d.KeyOnly {
		flags |= dataFlagKey
	}
	if len(d.InlineQos) > 0 {
		flags |= dataFlagInlineQos
		w.WriteBytes(d.InlineQos)
	}
	if d.Payload != nil {
		flags |= dataFlagData
		w.WriteBytes(EncodeSerializedPayload(*d.Payload))
	}
	return encodeWithHeader(KindData, flags, w.Bytes())
}

func patchUint16(buf []byte, pos int, v uint16, endian Endian) {
	if endian == LittleEndian {
		buf[pos] = byte(v)
		buf[pos+1] = byte(v >> 8)
	} else {
		buf[pos] = byte(v >> 8)
		buf[pos+1] = byte(v)
	}
}

// DataFrag carries one fragment of a sample too large to send as a single DATA.
type DataFrag struct {
	ReaderID             guid.EntityID
	WriterID             guid.EntityID
	WriterSN             seqnum.SequenceNumber
	FragmentStartingNum  uint32 // 1-based
	FragmentsInSubmessage uint16
	FragmentSize         uint16
	SampleSize           uint32
	InlineQos            []byte
	FragmentData         []byte // raw fragment bytes (already representation-id-prefixed only on the first fragment's reassembly, per convention below)
	KeyOnly              bool
}

func DecodeDataFrag(body []byte, endian Endian, flags byte) (DataFrag, error) {
	r := NewReader(body, endian)
	if _, err := r.ReadUint16(); err != nil {
		return DataFrag{}, err
	}
	octetsToInlineQos, err := r.ReadUint16()
	if err != nil {
		return DataFrag{}, err
	}
	afterFlagsOffset := r.Offset()

	f := DataFrag{KeyOnly: flags&dataFlagKey != 0}
	if f.ReaderID, err = readEntityID(r); err != nil {
		return DataFrag{}, err
	}
	if f.WriterID, err = readEntityID(r); err != nil {
		return DataFrag{}, err
	}
	if f.WriterSN, err = readSequenceNumber(r); err != nil {
		return DataFrag{}, err
	}
	if f.FragmentStartingNum, err = r.ReadUint32(); err != nil {
		return DataFrag{}, err
	}
	fragsInSub, err := r.ReadUint16()
	if err != nil {
		return DataFrag{}, err
	}
	f.FragmentsInSubmessage = fragsInSub
	fragSize, err := r.ReadUint16()
	if err != nil {
		return DataFrag{}, err
	}
	f.FragmentSize = fragSize
	sampleSize, err := r.ReadUint32()
	if err != nil {
		return DataFrag{}, err
	}
	f.SampleSize = sampleSize

	wantOffset := afterFlagsOffset + int(octetsToInlineQos)
	if wantOffset < r.Offset() || wantOffset > len(body) {
		return DataFrag{}, fmt.Errorf("wire: DATA_FRAG octetsToInlineQos %d out of range", octetsToInlineQos)
	}
	if err := r.Skip(wantOffset - r.Offset()); err != nil {
		return DataFrag{}, err
	}

	if flags&dataFlagInlineQos != 0 {
		qosBytes, err := decodeRawParameterList(r)
		if err != nil {
			return DataFrag{}, fmt.Errorf("wire: DATA_FRAG inline qos: %w", err)
		}
		f.InlineQos = qosBytes
	}
	f.FragmentData = append([]byte(nil), body[r.Offset():]...)
	return f, nil
}

func EncodeDataFrag(f DataFrag, endian Endian) EncodedSubmessage {
	w := NewWriter(endian)
	w.WriteUint16(0)
	lenPos := len(w.Bytes())
	w.WriteUint16(0)
	writeEntityID(w, f.ReaderID)
	writeEntityID(w, f.WriterID)
	writeSequenceNumber(w, f.WriterSN)
	w.WriteUint32(f.FragmentStartingNum)
	w.WriteUint16(f.FragmentsInSubmessage)
	w.WriteUint16(f.FragmentSize)
	w.WriteUint32(f.SampleSize)
	octetsToInlineQos := uint16(len(w.Bytes()) - lenPos - 2)
	patchUint16(w.Bytes(), lenPos, octetsToInlineQos, endian)

	flags := byte(0)
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	if f.KeyOnly {
		flags |= dataFlagKey
	}
	if len(f.InlineQos) > 0 {
		flags |= dataFlagInlineQos
		w.WriteBytes(f.InlineQos)
	}
	w.WriteBytes(f.FragmentData)
	return encodeWithHeader(KindDataFrag, flags, w.Bytes())
}

// decodeRawParameterList consumes a parameter list from r without decoding
// individual parameters, returning the raw bytes (header through
// PID_SENTINEL inclusive) so callers can decode it lazily via
// DecodeParameterList.
func decodeRawParameterList(r *Reader) ([]byte, error) {
	start := r.Offset()
	for {
		if r.Remaining() < 4 {
			return nil, fmt.Errorf("wire: truncated parameter list")
		}
		pid, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		length, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		if err := r.Skip(int(length)); err != nil {
			return nil, err
		}
		if ParameterID(pid) == PIDSentinel {
			break
		}
	}
	return append([]byte(nil), []byte(r.dataSlice(start, r.Offset()))...), nil
}

func (r *Reader) dataSlice(start, end int) []byte {
	return r.data[start:end]
}
