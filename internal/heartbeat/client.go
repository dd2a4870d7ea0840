package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is the worker-side end of the heartbeat channel. The worker
// must dial within the supervisor's startup timeout and then beat at
// the configured interval.
type Client struct {
	conn net.Conn
	seq  uint64
}

// Dial connects to the session's heartbeat socket.
func Dial(path string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing heartbeat channel %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// Beat sends one heartbeat frame with the next sequence number.
func (c *Client) Beat(status string) error {
	c.seq++
	frame, err := json.Marshal(Beat{
		Seq:    c.seq,
		TS:     time.Now().UTC(),
		Status: status,
	})
	if err != nil {
		return fmt.Errorf("encoding heartbeat: %w", err)
	}
	if _, err := c.conn.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("sending heartbeat %d: %w", c.seq, err)
	}
	return nil
}

// Run sends an immediate heartbeat and then beats at interval until
// the context is canceled or a send fails.
func (c *Client) Run(ctx context.Context, interval time.Duration, status string) error {
	if err := c.Beat(status); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Beat(status); err != nil {
				return err
			}
		}
	}
}

// Close closes the channel connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
