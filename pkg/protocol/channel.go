package protocol

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// DecodeError wraps a payload that arrived intact but could not be
// decoded. Framing is still synchronized, so the caller should log it
// and keep receiving.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is a recoverable decode failure.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Channel frames messages over a byte stream. Every message is written
// as a 10-digit zero-padded ASCII decimal payload length followed by
// the payload; receive reads exactly that many bytes back regardless of
// how the stream fragments them.
type Channel struct {
	conn io.ReadWriter
	role int
	wmu  sync.Mutex
}

// NewChannel wraps conn for the given role (RoleClient or RoleServer).
func NewChannel(conn io.ReadWriter, role int) *Channel {
	return &Channel{conn: conn, role: role}
}

// Send marshals m and writes header plus payload as one buffer in a
// single Write call, so a message is never interleaved with another.
func (c *Channel) Send(m Message) error {
	payload := m.Marshal()
	buf := make([]byte, HeaderLength+len(payload))
	copy(buf, fmt.Sprintf("%010d", len(payload)))
	copy(buf[HeaderLength:], payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(buf); err != nil {
		return errors.Wrapf(err, "send %s", m.Op())
	}
	return nil
}

// Receive blocks for the next complete message.
//
// Errors split three ways: io.EOF means the peer closed cleanly before
// a header ("no data"); a *DecodeError means a complete payload failed
// to decode and the channel is still usable; anything else (including
// ErrUnknownOp and a corrupt header, which desynchronizes framing) is
// fatal to the connection.
func (c *Channel) Receive() (Message, error) {
	header := make([]byte, HeaderLength)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read header")
	}

	size, err := strconv.ParseUint(string(header), 10, 32)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed length header %q", header)
	}
	if size > MaxPayloadSize {
		return nil, errors.Errorf("declared payload size %d exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, errors.Wrap(err, "read payload")
	}

	msg, err := UnmarshalMessage(c.role, payload)
	if err != nil {
		if errors.Is(err, ErrUnknownOp) {
			return nil, err
		}
		return nil, &DecodeError{Err: err}
	}
	return msg, nil
}
