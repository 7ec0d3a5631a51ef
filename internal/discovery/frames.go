// Package discovery speaks the rendezvous control protocol: length-prefixed
// binary frames over TCP, used to advertise and find game sessions. It is
// deliberately separate from gameplay traffic.
package discovery

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageType tags a control frame.
type MessageType uint8

const (
	MsgRegisterHost   MessageType = 1
	MsgUnregisterHost MessageType = 2
	MsgListSessions   MessageType = 3
	MsgJoinSession    MessageType = 4
	MsgHeartbeat      MessageType = 5
	MsgSessionCreated MessageType = 6
	MsgSessionList    MessageType = 7
	MsgJoinInfo       MessageType = 8
	MsgError          MessageType = 9
	MsgHeartbeatAck   MessageType = 10
)

// MaxFrameSize bounds a single frame. A session list for a full directory
// fits comfortably; anything larger is a protocol violation.
const MaxFrameSize = 256 * 1024

// A frame is [u32 BE length][u8 type][payload], where length counts the type
// byte plus the payload.

// WriteFrame encodes and writes one frame.
func WriteFrame(w io.Writer, typ MessageType, payload []byte) error {
	length := 1 + len(payload)
	if length > MaxFrameSize {
		return fmt.Errorf("discovery: frame too large: %d bytes", length)
	}
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[:4], uint32(length))
	header[4] = byte(typ)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("discovery: write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("discovery: write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame, rejecting zero-length and oversized frames.
func ReadFrame(r io.Reader) (MessageType, []byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("discovery: read frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return 0, nil, fmt.Errorf("discovery: zero-length frame")
	}
	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("discovery: frame too large: %d bytes", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("discovery: read frame body: %w", err)
	}
	return MessageType(body[0]), body[1:], nil
}
