// Package proto implements the chat wire protocol.
//
// A frame is one command byte, a single space, the content bytes and a
// CRLF terminator:
//
//	<cmd:1><0x20><content:N>\r\n
//
// Content never contains the terminator sequence; upstream length ceilings
// make that enforceable without escaping.
package proto

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Client to server commands.
const (
	CmdExit        byte = 0x01
	CmdSubmitName  byte = 0x02
	CmdCreateRoom  byte = 0x03
	CmdListRooms   byte = 0x04
	CmdJoinRoom    byte = 0x05
	CmdLeaveRoom   byte = 0x06
	CmdSendMessage byte = 0x07
)

// Server to client commands.
const (
	CmdWelcome      byte = 0x16
	CmdRoomCreateOK byte = 0x18
	CmdRoomList     byte = 0x1A
	CmdRoomJoinOK   byte = 0x1B
	CmdRoomMessage  byte = 0x1C
	CmdRoomLeaveOK  byte = 0x1D
)

// Server to client error codes.
const (
	ErrCodeRoomNameInvalid byte = 0x24
	ErrCodeCapacityFull    byte = 0x25
	ErrCodeRoomNotFound    byte = 0x26
	ErrCodeInvalidStateCmd byte = 0x28
	ErrCodeInvalidFormat   byte = 0x29
	ErrCodeEmptyContent    byte = 0x2A
	ErrCodeServerFull      byte = 0x2B
	ErrCodeUsernameLength  byte = 0x2D
)

const (
	// maxFrameLen bounds how many bytes the decoder accumulates before
	// giving up on finding a terminator. Server room-list responses are
	// the largest legitimate frames and stay well under this.
	maxFrameLen = 4096

	terminator = "\r\n"
)

var (
	ErrMalformed    = errors.New("malformed frame")
	ErrFrameTooLong = errors.New("frame exceeds maximum length")
)

// Frame is one decoded protocol message.
type Frame struct {
	Cmd     byte
	Content []byte
}

// NewFrame builds a frame with string content.
func NewFrame(cmd byte, content string) Frame {
	return Frame{Cmd: cmd, Content: []byte(content)}
}

func (f Frame) String() string {
	return fmt.Sprintf("frame{cmd: 0x%02x, content: %q}", f.Cmd, f.Content)
}

// Append appends the wire form of the frame to dst and returns the
// extended slice.
func (f Frame) Append(dst []byte) []byte {
	dst = append(dst, f.Cmd, ' ')
	dst = append(dst, f.Content...)
	return append(dst, terminator...)
}

// Encode returns the wire form of the frame.
func (f Frame) Encode() []byte {
	return f.Append(make([]byte, 0, len(f.Content)+4))
}

// Parse decodes one complete frame from raw, which must end with the
// terminator. It returns ok=false for an empty line (a stray terminator
// with no command or content), which callers discard rather than deliver.
func Parse(raw []byte) (Frame, bool, error) {
	body, found := bytes.CutSuffix(raw, []byte(terminator))
	if !found {
		return Frame{}, false, ErrMalformed
	}
	if len(body) == 0 {
		return Frame{}, false, nil
	}
	if len(body) < 2 || body[1] != ' ' {
		return Frame{}, false, ErrMalformed
	}
	return Frame{Cmd: body[0], Content: body[2:]}, true, nil
}

// Decoder turns a byte stream into frames. It consumes bytes incrementally
// and emits a frame as soon as a terminator is seen.
type Decoder struct {
	r       *bufio.Reader
	pending []byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until a complete frame is available. Empty lines are skipped.
// It returns io.EOF when the stream ends cleanly between frames, and
// ErrMalformed or ErrFrameTooLong when the stream cannot be decoded
// further; the connection is unusable after any non-nil error.
func (d *Decoder) Next() (Frame, error) {
	for {
		chunk, err := d.r.ReadSlice('\n')
		d.pending = append(d.pending, chunk...)
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				if len(d.pending) > maxFrameLen {
					return Frame{}, ErrFrameTooLong
				}
				continue
			}
			if errors.Is(err, io.EOF) && len(d.pending) > 0 {
				return Frame{}, io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
		if len(d.pending) > maxFrameLen {
			return Frame{}, ErrFrameTooLong
		}
		if !bytes.HasSuffix(d.pending, []byte(terminator)) {
			// Bare LF inside content, keep scanning for CRLF.
			continue
		}
		f, ok, err := Parse(d.pending)
		d.pending = nil // content aliases the old buffer, never reuse it
		if err != nil {
			return Frame{}, err
		}
		if !ok {
			continue
		}
		return f, nil
	}
}
