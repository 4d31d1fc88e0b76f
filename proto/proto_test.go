package proto

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cmd     byte
		content string
	}{
		{name: "submit name", cmd: CmdSubmitName, content: "alice"},
		{name: "message with spaces", cmd: CmdSendMessage, content: "hello there, room"},
		{name: "exit with dummy content", cmd: CmdExit, content: "x"},
		{name: "room list with inner newlines", cmd: CmdRoomList, content: "Room 1: a\nRoom 2: b\n"},
		{name: "empty content", cmd: CmdLeaveRoom, content: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := NewFrame(tt.cmd, tt.content).Encode()

			f, err := NewDecoder(bytes.NewReader(raw)).Next()
			if tt.content == "" {
				// An empty frame body still decodes: cmd, space, terminator.
				require.NoError(t, err)
				assert.Equal(t, tt.cmd, f.Cmd)
				assert.Empty(t, f.Content)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, f.Cmd)
			assert.Equal(t, tt.content, string(f.Content))
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantCmd byte
		wantOK  bool
		wantErr error
	}{
		{name: "valid", raw: "\x02 alice\r\n", wantCmd: CmdSubmitName, wantOK: true},
		{name: "stray terminator discarded", raw: "\r\n", wantOK: false},
		{name: "missing terminator", raw: "\x02 alice", wantErr: ErrMalformed},
		{name: "missing space", raw: "\x02alice\r\n", wantErr: ErrMalformed},
		{name: "single byte body", raw: "\x02\r\n", wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok, err := Parse([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantCmd, f.Cmd)
			}
		})
	}
}

func TestDecoder_MultipleFrames(t *testing.T) {
	var stream []byte
	stream = NewFrame(CmdSubmitName, "alice").Append(stream)
	stream = append(stream, "\r\n"...) // stray terminator between frames
	stream = NewFrame(CmdCreateRoom, "general").Append(stream)
	stream = NewFrame(CmdSendMessage, "hi").Append(stream)

	dec := NewDecoder(bytes.NewReader(stream))

	for _, want := range []Frame{
		NewFrame(CmdSubmitName, "alice"),
		NewFrame(CmdCreateRoom, "general"),
		NewFrame(CmdSendMessage, "hi"),
	} {
		got, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, want.Cmd, got.Cmd)
		assert.Equal(t, string(want.Content), string(got.Content))
	}

	_, err := dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_IncrementalReads(t *testing.T) {
	// One byte per read exercises frame reassembly across short reads.
	raw := NewFrame(CmdSendMessage, "split across reads").Encode()
	dec := NewDecoder(iotest.OneByteReader(bytes.NewReader(raw)))

	f, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, CmdSendMessage, f.Cmd)
	assert.Equal(t, "split across reads", string(f.Content))
}

func TestDecoder_BareLFInsideContent(t *testing.T) {
	raw := []byte{CmdSendMessage, ' '}
	raw = append(raw, "line one\nline two\r\n"...)

	f, err := NewDecoder(bytes.NewReader(raw)).Next()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(f.Content))
}

func TestDecoder_Malformed(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("\x02alice\r\n")).Next()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecoder_TruncatedStream(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("\x02 ali")).Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecoder_FrameTooLong(t *testing.T) {
	raw := []byte{CmdSendMessage, ' '}
	raw = append(raw, bytes.Repeat([]byte("a"), maxFrameLen+1)...)
	raw = append(raw, "\r\n"...)

	_, err := NewDecoder(bytes.NewReader(raw)).Next()
	assert.ErrorIs(t, err, ErrFrameTooLong)
}
