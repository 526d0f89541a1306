package p2p

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
)

// Conn wraps one TCP connection for newline-delimited JSON message
// exchange. Every Send writes exactly one JSON object followed by '\n';
// every Recv reads exactly one line and decodes it.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewConn wraps an already-established connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c, r: bufio.NewReader(c)}
}

// Dial opens a new connection to a peer at addr.
func Dial(addr string) (*Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return NewConn(c), nil
}

// Send encodes and writes msg as one newline-terminated JSON object.
func (c *Conn) Send(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	b = append(b, '\n')
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Recv reads and decodes the next newline-terminated JSON object.
func (c *Conn) Recv() (Message, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	return msg, nil
}

func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
