// internal/protocol/client.go
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 4 * 1024 * 1024
	defaultTimeout       = 10 * time.Second
)

// Client speaks the newline-JSON protocol over the hub's unix socket. One
// command line out, one response line back, on the same connection.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	timeout time.Duration
}

// Dial connects to the hub socket at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial hub socket %s: %w", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, scannerInitialBuffer), scannerMaxBuffer)
	return &Client{conn: conn, scanner: scanner, timeout: defaultTimeout}, nil
}

// Do sends one command and waits for its response.
func (c *Client) Do(cmd Command) (Response, error) {
	line, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}
	line = append(line, '\n')

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Response{}, err
	}
	if _, err := c.conn.Write(line); err != nil {
		return Response{}, fmt.Errorf("write command: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, fmt.Errorf("connection closed by hub")
	}
	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
