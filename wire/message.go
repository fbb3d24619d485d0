package wire

import "fmt"

// Message is a decoded RTPS message: header plus the ordered list of
// submessages it carries.
type Message struct {
	Header      Header
	Submessages []Submessage
}

// DecodeMessage parses one UDP datagram's worth of RTPS message.
//
// Per spec.md §4.1: a malformed submessage aborts processing of the
// datagram (the caller gets an error and MUST simply drop it and move on to
// the next datagram — the engine must not crash); an unknown *mandatory*
// submessage kind is rejected; a content length exceeding the remaining
// buffer is rejected; a zero-length submessage other than PAD is rejected;
// trailing bytes after the last submessage are silently dropped.
func DecodeMessage(data []byte) (Message, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return Message{}, err
	}
	msg := Message{Header: hdr}
	r := NewReader(data[HeaderLength:], BigEndian)

	for r.Remaining() > 0 {
		if r.Remaining() < SubmessageHeaderLength {
			// Trailing bytes too short to be a submessage header: per spec,
			// trailing bytes after the last submessage are silently dropped.
			break
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return Message{}, fmt.Errorf("wire: reading submessage kind: %w", err)
		}
		flags, err := r.ReadByte()
		if err != nil {
			return Message{}, fmt.Errorf("wire: reading submessage flags: %w", err)
		}
		kind := Kind(kindByte)
		endian := BigEndian
		if flags&EndiannessFlag != 0 {
			endian = LittleEndian
		}
		r.SetEndian(endian)
		contentLen, err := r.ReadUint16()
		if err != nil {
			return Message{}, fmt.Errorf("wire: reading submessage length: %w", err)
		}

		if contentLen == 0 && kind != KindPad {
			return Message{}, fmt.Errorf("wire: zero-length %s submessage", kind)
		}
		if int(contentLen) > r.Remaining() {
			return Message{}, fmt.Errorf("wire: %s content length %d exceeds remaining %d bytes", kind, contentLen, r.Remaining())
		}
		if !kind.Mandatory() {
			// Vendor-specific/optional kind we don't recognize: skip silently.
			if _, known := knownKinds[kind]; !known {
				if err := r.Skip(int(contentLen)); err != nil {
					return Message{}, err
				}
				continue
			}
		} else if _, known := knownKinds[kind]; !known {
			return Message{}, fmt.Errorf("wire: unknown mandatory submessage kind 0x%02X", kindByte)
		}

		body, err := r.ReadBytes(int(contentLen))
		if err != nil {
			return Message{}, fmt.Errorf("wire: reading %s body: %w", kind, err)
		}
		msg.Submessages = append(msg.Submessages, Submessage{
			Header: SubmessageHeader{Kind: kind, Flags: flags, ContentLength: contentLen},
			Body:   body,
		})
	}
	return msg, nil
}

var knownKinds = map[Kind]struct{}{
	KindPad:           {},
	KindAckNack:       {},
	KindHeartbeat:     {},
	KindGap:           {},
	KindInfoTS:        {},
	KindInfoSrc:       {},
	KindInfoDst:       {},
	KindData:          {},
	KindDataFrag:      {},
	KindNackFrag:      {},
	KindHeartbeatFrag: {},
}

// EncodedSubmessage is a fully-serialized submessage (header+body) ready to
// be concatenated into a message.
type EncodedSubmessage []byte

// EncodeMessage concatenates the header and a sequence of already-encoded
// submessages into one datagram payload.
func EncodeMessage(header Header, submessages []EncodedSubmessage) []byte {
	out := EncodeHeader(header)
	for _, sm := range submessages {
		out = append(out, sm...)
	}
	return out
}

// EncodeSubmessage wraps a submessage body with its header, computing
// ContentLength from the body length.
func EncodeSubmessage(kind Kind, endian Endian, body []byte) EncodedSubmessage {
	flags := byte(0)
	if endian == LittleEndian {
		flags |= EndiannessFlag
	}
	w := NewWriter(BigEndian) // header fields are single bytes / explicit endian below
	encodeSubmessageHeader(w, kind, flags, uint16(len(body)))
	out := append(w.Bytes(), body...)
	return EncodedSubmessage(out)
}
