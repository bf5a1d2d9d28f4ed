// Package client waits for a job completion notice on the gateway and moves to the page
// that shows its result.
//
// A Client connects once, polls for buffered notices while idle, and reacts to the first
// data or download notice: a successful outcome navigates, anything else records the
// detail as an error. Either way the notice is acknowledged so the gateway clears its
// buffer. Terminal states are never retried.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"manualpilot/notify/protocol"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Idle
	Notified
	Redirected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Idle:
		return "idle"
	case Notified:
		return "notified"
	case Redirected:
		return "redirected"
	case Failed:
		return "failed"
	}

	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) Terminal() bool {
	return s == Redirected || s == Failed
}

const (
	TablesRoute   = "/dashboard/upload/tables"
	DownloadRoute = "/dashboard/download"
)

const DefaultPollInterval = 2 * time.Second

type Navigator interface {
	Navigate(route string)
}

type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) { f(route) }

// JobError is returned by Run when the backend reported a failed job.
type JobError struct {
	Detail string
}

func (e *JobError) Error() string {
	return e.Detail
}

type Options struct {
	URL          string
	RecipientID  string
	PollInterval time.Duration
	Navigator    Navigator
	Logger       *slog.Logger
	Header       http.Header
}

type Client struct {
	opts Options

	lock   sync.Mutex
	state  State
	errMsg string
}

func New(opts Options) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	if opts.Navigator == nil {
		opts.Navigator = NavigatorFunc(func(string) {})
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{opts: opts}
}

func (c *Client) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// Error is the detail of a failed job, shown in place of a redirect.
func (c *Client) Error() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.errMsg
}

func (c *Client) setState(s State) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state.Terminal() {
		return
	}

	c.state = s
}

// Run connects and blocks until a notice has been handled, the connection fails or ctx is
// done. Cancelling ctx stops polling and closes the connection.
func (c *Client) Run(ctx context.Context) error {
	c.setState(Connecting)

	u, err := url.Parse(c.opts.URL)
	if err != nil {
		c.setState(Disconnected)
		return err
	}

	if c.opts.RecipientID != "" {
		q := u.Query()
		q.Set(protocol.QueryRecipient, c.opts.RecipientID)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: c.opts.Header})
	if err != nil {
		c.setState(Disconnected)
		return err
	}

	//goland:noinspection GoUnhandledErrorResult
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.setState(Idle)
	log := c.opts.Logger.With(slog.String("recipient", c.opts.RecipientID))

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan protocol.Frame)
	readErr := make(chan error, 1)

	go func() {
		for {
			frame := protocol.Frame{}
			if err := wsjson.Read(rctx, conn, &frame); err != nil {
				readErr <- err
				return
			}

			select {
			case frames <- frame:
			case <-rctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	poll := ticker.C

	for {
		select {
		case <-ctx.Done():
			c.setState(Disconnected)
			return ctx.Err()
		case err := <-readErr:
			c.setState(Disconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return err
		case <-poll:
			if err := wsjson.Write(ctx, conn, protocol.Frame{Event: protocol.EventCheckStatus}); err != nil {
				c.setState(Disconnected)
				if ctx.Err() != nil {
					return ctx.Err()
				}

				return err
			}
		case frame := <-frames:
			if frame.Event != protocol.EventData && frame.Event != protocol.EventDownload {
				log.Debug("ignoring event", slog.String("event", string(frame.Event)))
				continue
			}

			ticker.Stop()
			poll = nil

			if err := c.handle(ctx, conn, frame); err != nil {
				return err
			}

			if c.State() == Failed {
				return &JobError{Detail: c.Error()}
			}

			return nil
		}
	}
}

func (c *Client) handle(ctx context.Context, conn *websocket.Conn, frame protocol.Frame) error {
	msg, err := frame.Message()
	if err != nil {
		return fmt.Errorf("decode %v notice: %w", frame.Event, err)
	}

	c.transition(frame.Event, msg)

	if err := wsjson.Write(ctx, conn, protocol.Frame{Event: protocol.EventNotificationReceived}); err != nil {
		return err
	}

	if frame.ID != "" {
		if err := wsjson.Write(ctx, conn, protocol.AckFrame(frame.ID)); err != nil {
			return err
		}
	}

	return nil
}

// transition applies a notice to the state machine. Only the first notice navigates.
func (c *Client) transition(event protocol.Event, msg protocol.Message) {
	c.lock.Lock()
	if c.state == Notified || c.state.Terminal() {
		c.lock.Unlock()
		return
	}

	if !msg.Succeeded() {
		c.state = Failed
		c.errMsg = msg.Detail()
		c.lock.Unlock()
		return
	}

	c.state = Notified
	c.lock.Unlock()

	c.opts.Navigator.Navigate(Route(event, msg))
	c.setState(Redirected)
}

// Route is the page a successful notice leads to.
func Route(event protocol.Event, msg protocol.Message) string {
	if event == protocol.EventDownload {
		return fmt.Sprintf("%v?file=%v", DownloadRoute, url.QueryEscape(msg.Detail()))
	}

	return TablesRoute
}
