// Package client provides a synchronous client for the ferdis wire
// protocol: connect, send one request, read back the framed reply.
package client

import (
	"fmt"
	"net"
	"strings"
	"time"

	ferdis "github.com/behrlich/ferdis-go"
	"github.com/behrlich/ferdis-go/protocol"
)

// Client is a single connection to a ferdis server. Not safe for
// concurrent use: one command is in flight at a time, matching the
// server's one-request/one-reply-per-turn contract.
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// Dial connects to a ferdis server at addr ("host:port").
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, ferdis.WrapError("dial", -1, err)
	}
	return &Client{conn: conn, timeout: 5 * time.Second}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends one command (verb plus its arguments, joined with a single
// space, matching the wire protocol's payload format) and returns the
// decoded reply.
func (c *Client) Do(verb string, args ...string) (protocol.Reply, error) {
	payload := verb
	if len(args) > 0 {
		payload = verb + " " + strings.Join(args, " ")
	}

	if err := c.sendRequest([]byte(payload)); err != nil {
		return protocol.Reply{}, err
	}
	return c.readReply()
}

// Get is a typed convenience wrapper around Do("get", key).
func (c *Client) Get(key string) (string, bool, error) {
	reply, err := c.Do("get", key)
	if err != nil {
		return "", false, err
	}
	return replyToOptionalString(reply)
}

// Set is a typed convenience wrapper around Do("set", key, value).
func (c *Client) Set(key, value string) error {
	reply, err := c.Do("set", key, value)
	if err != nil {
		return err
	}
	return replyToError(reply)
}

// Del is a typed convenience wrapper around Do("del", key).
func (c *Client) Del(key string) (string, bool, error) {
	reply, err := c.Do("del", key)
	if err != nil {
		return "", false, err
	}
	return replyToOptionalString(reply)
}

// Keys is a typed convenience wrapper around Do("keys").
func (c *Client) Keys() ([]string, error) {
	reply, err := c.Do("keys")
	if err != nil {
		return nil, err
	}
	if reply.Tag == protocol.TagNil {
		return nil, nil
	}
	if reply.Tag != protocol.TagArr {
		return nil, fmt.Errorf("unexpected reply tag %d for keys", reply.Tag)
	}
	return reply.Arr, nil
}

func replyToOptionalString(reply protocol.Reply) (string, bool, error) {
	switch reply.Tag {
	case protocol.TagNil:
		return "", false, nil
	case protocol.TagStr:
		return reply.Str, true, nil
	case protocol.TagErr:
		return "", false, fmt.Errorf("server error %d: %s", reply.ErrCode, reply.ErrMsg)
	default:
		return "", false, fmt.Errorf("unexpected reply tag %d", reply.Tag)
	}
}

func replyToError(reply protocol.Reply) error {
	if reply.Tag == protocol.TagErr {
		return fmt.Errorf("server error %d: %s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}

func (c *Client) sendRequest(payload []byte) error {
	frame := protocol.EncodeFrame(nil, payload)
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := writeFull(c.conn, frame); err != nil {
		return ferdis.WrapError("send_request", -1, err)
	}
	return nil
}

func (c *Client) readReply() (protocol.Reply, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))

	var lenBuf [4]byte
	if err := readFull(c.conn, lenBuf[:]); err != nil {
		return protocol.Reply{}, ferdis.WrapError("read_reply_header", -1, err)
	}

	length := le32(lenBuf[:])
	if length > protocol.MaxMsg {
		return protocol.Reply{}, ferdis.NewError("read_reply", ferdis.ErrCodeProtocolViolation, "declared reply length exceeds MAX_MSG")
	}

	body := make([]byte, length)
	if err := readFull(c.conn, body); err != nil {
		return protocol.Reply{}, ferdis.WrapError("read_reply_body", -1, err)
	}

	return protocol.DecodeReply(body)
}

// writeFull guards against a partial write, matching the original
// client's write_full.
func writeFull(conn net.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// readFull guards against a partial read, matching the original
// client's read_full.
func readFull(conn net.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Read(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
