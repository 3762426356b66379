// Package natsconn provides the single NATS connection shared by the
// metadata subscriber and the collective-communication fabric.
//
// A rank only ever opens one *nats.Conn; metadatasource and collective
// both take a *Client so they multiplex it instead of dialing twice.
package natsconn

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/radiotel/ingestd/internal/ccalog"
)

// Config is the "nats" section of the parset.
type Config struct {
	Address       string `json:"address"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"credsFilePath,omitempty"`
}

const ConfigSchema = `{
	"type": "object",
	"properties": {
		"address": {"type": "string"},
		"username": {"type": "string"},
		"password": {"type": "string"},
		"credsFilePath": {"type": "string"}
	},
	"required": ["address"]
}`

// Client wraps a NATS connection with subscription bookkeeping so Close
// can unwind everything a rank opened during a run.
type Client struct {
	conn          *nats.Conn
	mu            sync.Mutex
	subscriptions []*nats.Subscription
}

// MessageHandler processes one message delivered on a subject.
type MessageHandler func(subject string, data []byte)

// Dial opens a new connection per cfg. Every rank calls this once at
// startup; metadatasource and pkg/collective both hold the same *Client.
func Dial(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("natsconn: address is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				ccalog.Warnf("natsconn: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			ccalog.Infof("natsconn: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				ccalog.Errorf("natsconn: error on subject %s: %v", sub.Subject, err)
				return
			}
			ccalog.Errorf("natsconn: error: %v", err)
		}),
	)

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsconn: connect to %s: %w", cfg.Address, err)
	}

	ccalog.Infof("natsconn: connected to %s", cfg.Address)
	return &Client{conn: nc}, nil
}

// Subscribe registers handler on subject.
func (c *Client) Subscribe(subject string, handler MessageHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("natsconn: subscribe %q: %w", subject, err)
	}

	c.subscriptions = append(c.subscriptions, sub)
	return sub, nil
}

// Request performs a synchronous request/reply. The collective and
// metadata paths do not use it; they subscribe and publish instead.
func (c *Client) Request(subject string, data []byte, timeoutMs int) ([]byte, error) {
	msg, err := c.conn.Request(subject, data, time.Duration(timeoutMs)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("natsconn: request %q: %w", subject, err)
	}
	return msg.Data, nil
}

// Publish sends data on subject without waiting for a reply.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("natsconn: publish %q: %w", subject, err)
	}
	return nil
}

// Flush blocks until the outbound buffer has been sent.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Raw returns the underlying connection for subsystems needing APIs not
// wrapped here (e.g. queue groups, JetStream).
func (c *Client) Raw() *nats.Conn {
	return c.conn
}

// Close unsubscribes everything registered through this client and closes
// the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subscriptions {
		_ = sub.Unsubscribe()
	}
	c.subscriptions = nil

	if c.conn != nil {
		c.conn.Close()
	}
}
