// Package protocol implements the framed wire protocol: length-prefixed
// request frames, and length-prefixed tagged reply frames. All
// multi-byte integers are little-endian; string bytes are raw octets.
package protocol

import (
	"encoding/binary"

	ferdis "github.com/behrlich/ferdis-go"
)

// MaxMsg is the upper bound on one frame's payload/body length.
const MaxMsg = 4096

// frameHeaderLen is the size of the u32 length prefix on every frame.
const frameHeaderLen = 4

// Tag is the discriminator at the head of a reply body.
type Tag uint32

const (
	TagNil Tag = 0
	TagErr Tag = 1
	TagStr Tag = 2
	TagArr Tag = 3
)

// Reply error codes, part of the wire contract — must stay bit-exact.
const (
	ErrUnknownCommand        = uint32(1)
	ErrInsufficientArguments = uint32(2)
	ErrTooManyArguments      = uint32(3)
)

// ErrNeedMore signals that the buffer does not yet hold a full frame;
// the caller should wait for more bytes and retry, not close the
// connection.
var ErrNeedMore = ferdis.NewError("decode_request", ferdis.ErrCodeTransientIO, "need more data")

// DecodeRequest attempts to decode one request frame from the front of
// buf. On success it returns the payload slice (aliasing buf) and the
// number of bytes consumed (4 + len(payload)). If buf does not yet hold
// a complete frame, it returns ErrNeedMore. If the declared length
// exceeds MaxMsg, it returns a protocol-violation error; the connection
// must close without a reply.
func DecodeRequest(buf []byte) (payload []byte, consumed int, err error) {
	if len(buf) < frameHeaderLen {
		return nil, 0, ErrNeedMore
	}

	length := binary.LittleEndian.Uint32(buf[:frameHeaderLen])
	if length > MaxMsg {
		return nil, 0, ferdis.NewError("decode_request", ferdis.ErrCodeProtocolViolation, "declared length exceeds MAX_MSG")
	}

	total := frameHeaderLen + int(length)
	if len(buf) < total {
		return nil, 0, ErrNeedMore
	}

	return buf[frameHeaderLen:total], total, nil
}

// EncodeFrame appends a reply frame (4-byte length prefix + body) to
// dst, returning the extended slice.
func EncodeFrame(dst []byte, body []byte) []byte {
	var hdr [frameHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))
	dst = append(dst, hdr[:]...)
	return append(dst, body...)
}

// EncodeNil appends a NIL body to dst, returning the extended slice.
func EncodeNil(dst []byte) []byte {
	var tag [4]byte
	binary.LittleEndian.PutUint32(tag[:], uint32(TagNil))
	return append(dst, tag[:]...)
}

// EncodeStr appends a STR body (tag, length, bytes) to dst.
func EncodeStr(dst []byte, val string) []byte {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(TagStr))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(val)))
	dst = append(dst, hdr[:]...)
	return append(dst, val...)
}

// EncodeErr appends an ERR body (tag, code, message length, message) to
// dst. code is part of the wire contract (see ErrUnknownCommand et al.)
// and must be preserved bit-exact by callers.
func EncodeErr(dst []byte, code uint32, msg string) []byte {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(TagErr))
	binary.LittleEndian.PutUint32(hdr[4:8], code)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(msg)))
	dst = append(dst, hdr[:]...)
	return append(dst, msg...)
}

// EncodeArr appends an ARR body (tag, count, count×STR-body) to dst.
func EncodeArr(dst []byte, vals []string) []byte {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(TagArr))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(vals)))
	dst = append(dst, hdr[:]...)
	for _, v := range vals {
		dst = EncodeStr(dst, v)
	}
	return dst
}

// Reply is the client-side decoded form of a reply body: exactly one of
// its fields is meaningful, selected by Tag.
type Reply struct {
	Tag     Tag
	ErrCode uint32
	ErrMsg  string
	Str     string
	Arr     []string
}

// DecodeReply decodes a reply body per the tagged-variant layout in
// EncodeNil/EncodeErr/EncodeStr/EncodeArr. Used by the client and by
// protocol round-trip tests.
func DecodeReply(body []byte) (Reply, error) {
	tag, rest, err := readU32(body)
	if err != nil {
		return Reply{}, err
	}

	switch Tag(tag) {
	case TagNil:
		return Reply{Tag: TagNil}, nil
	case TagStr:
		s, _, err := readString(rest)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Tag: TagStr, Str: s}, nil
	case TagErr:
		code, rest, err := readU32(rest)
		if err != nil {
			return Reply{}, err
		}
		msg, _, err := readString(rest)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Tag: TagErr, ErrCode: code, ErrMsg: msg}, nil
	case TagArr:
		count, rest, err := readU32(rest)
		if err != nil {
			return Reply{}, err
		}
		vals := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			s, tail, err := readStrBody(rest)
			if err != nil {
				return Reply{}, err
			}
			vals = append(vals, s)
			rest = tail
		}
		return Reply{Tag: TagArr, Arr: vals}, nil
	default:
		return Reply{}, ferdis.NewError("decode_reply", ferdis.ErrCodeProtocolViolation, "unknown reply tag")
	}
}

func readU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, ferdis.NewError("decode_reply", ferdis.ErrCodeProtocolViolation, "truncated u32")
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

// readString reads a headerless length-prefixed string (u32 length plus
// that many raw bytes, no leading tag) from the front of b, returning
// the decoded string and the remaining bytes. Used where the caller has
// already consumed the surrounding tag itself — the top-level reply
// body's STR case, and the value field of an ERR body.
func readString(b []byte) (string, []byte, error) {
	n, rest, err := readU32(b)
	if err != nil {
		return "", nil, err
	}
	if uint32(len(rest)) < n {
		return "", nil, ferdis.NewError("decode_reply", ferdis.ErrCodeProtocolViolation, "truncated string body")
	}
	return string(rest[:n]), rest[n:], nil
}

// readStrBody reads one full STR body from the front of b: its own
// TagStr discriminator followed by a headerless length-prefixed string
// (see readString). This is the shape of each element inside an ARR
// body (table §4.2: "count × STR-body") — unlike the bare value fields
// readString handles directly, an array element carries its own tag,
// so reusing readString on it would misread the tag as part of the
// length.
func readStrBody(b []byte) (string, []byte, error) {
	tag, rest, err := readU32(b)
	if err != nil {
		return "", nil, err
	}
	if Tag(tag) != TagStr {
		return "", nil, ferdis.NewError("decode_reply", ferdis.ErrCodeProtocolViolation, "array element missing STR tag")
	}
	return readString(rest)
}
