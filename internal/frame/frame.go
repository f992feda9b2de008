// Package frame implements the length-prefixed TLV wire format used by
// every backend TCP session:
//
//	tag(4B big-endian) | length(4B big-endian) | payload(length bytes)
//
// Every numeric field is big-endian, including the 8-byte uid prefix
// carried inside CHAT_MSG / CHAT_MSG_TOCLI payloads (see UID helpers below).
package frame

import (
	"encoding/binary"
	"io"

	"github.com/relaychat/relaychat/internal/errkind"
)

// Tag identifies the kind of frame. Values match the wire protocol exactly
// and must never be renumbered.
type Tag uint32

const (
	Debug Tag = iota
	Verify
	VerifyDone
	ChatMsg
	ChatMsgToClient
	GroupChatMsg
	Ping
	reserved
)

func (t Tag) String() string {
	switch t {
	case Debug:
		return "DEBUG"
	case Verify:
		return "VERIFY"
	case VerifyDone:
		return "VERIFY_DONE"
	case ChatMsg:
		return "CHAT_MSG"
	case ChatMsgToClient:
		return "CHAT_MSG_TOCLI"
	case GroupChatMsg:
		return "GROUP_CHAT_MSG"
	case Ping:
		return "PING"
	default:
		return "RESERVED"
	}
}

const (
	tagLen    = 4
	lengthLen = 4
	headLen   = tagLen + lengthLen

	// MaxPayloadLen is the hard cap on a single frame's payload, 1 MiB.
	MaxPayloadLen = 1 << 20

	// UIDLen is the width of the uid prefix on CHAT_MSG / CHAT_MSG_TOCLI payloads.
	UIDLen = 8
)

// Frame is a decoded (tag, payload) pair.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// ReadFrame reads exactly one frame from r. A short read before any header
// byte is reported as CONNECTION_CLOSED (normal peer shutdown); a short
// read after the header has started is PROTOCOL_ERROR; a length exceeding
// MaxPayloadLen is FRAME_TOO_LARGE.
func ReadFrame(r io.Reader) (Frame, error) {
	var head [headLen]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil {
		if n == 0 && (err == io.EOF) {
			return Frame{}, errkind.Wrap(errkind.ConnectionClosed, "peer closed before header", err)
		}
		return Frame{}, errkind.Wrap(errkind.ProtocolError, "short read on frame header", err)
	}

	tag := Tag(binary.BigEndian.Uint32(head[0:tagLen]))
	length := binary.BigEndian.Uint32(head[tagLen:headLen])
	if length > MaxPayloadLen {
		return Frame{}, errkind.New(errkind.FrameTooLarge, "frame length exceeds 1 MiB")
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, errkind.Wrap(errkind.ProtocolError, "short read on frame payload", err)
		}
	}

	return Frame{Tag: tag, Payload: payload}, nil
}

// EncodeFrame renders (tag, payload) to wire bytes.
func EncodeFrame(tag Tag, payload []byte) []byte {
	buf := make([]byte, headLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:tagLen], uint32(tag))
	binary.BigEndian.PutUint32(buf[tagLen:headLen], uint32(len(payload)))
	copy(buf[headLen:], payload)
	return buf
}

// PutUID prepends a big-endian uid to content, matching the CHAT_MSG /
// CHAT_MSG_TOCLI payload shape: uid(8B BE) || content.
func PutUID(uid uint64, content []byte) []byte {
	out := make([]byte, UIDLen+len(content))
	binary.BigEndian.PutUint64(out[:UIDLen], uid)
	copy(out[UIDLen:], content)
	return out
}

// SplitUID parses a CHAT_MSG / CHAT_MSG_TOCLI payload into (uid, content).
func SplitUID(payload []byte) (uid uint64, content []byte, err error) {
	if len(payload) < UIDLen {
		return 0, nil, errkind.New(errkind.ProtocolError, "payload shorter than uid prefix")
	}
	return binary.BigEndian.Uint64(payload[:UIDLen]), payload[UIDLen:], nil
}
