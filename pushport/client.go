// Package pushport implements the STOMP Client: a single long-lived
// subscriber to the Darwin push-port broker, with reconnection, heartbeats
// and back-off, per spec.md §4.D. The STOMP protocol itself is handled by
// github.com/go-stomp/stomp/v3 (the standard Go STOMP 1.2 client — the
// teacher has no STOMP analogue, since its own real-time component,
// mqttgateway, is an MQTT *broker* rather than a subscriber). The
// reconnect/back-off loop is grounded on the teacher's polling-scraper
// lifecycle (scraper/mlxscraper/conditions.go: Init/Begin/End/Running, a
// ticker, and a stop channel), generalized from a fixed polling period to
// exponential back-off with jitter.
package pushport

import (
	"crypto/tls"
	"fmt"
	"log"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
)

// State is one of the STOMP Client's lifecycle states.
type State int32

// Recognized states, matching the state machine in spec.md §4.D.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures the Client.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	Topic        string
	HeartbeatMs  int
	BackoffMaxMs int
	UseTLS       bool
	Log          *log.Logger
}

// Client is a persistent STOMP subscriber to the push-port topic.
type Client struct {
	cfg   Config
	state int32 // atomic State

	frames   chan *stomp.Message
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	authFailureStreak int32
	frameReceived     int32 // atomic bool, set when connectAndReceive delivers a frame
}

// New returns a Client ready to Start.
func New(cfg Config) *Client {
	if cfg.HeartbeatMs == 0 {
		cfg.HeartbeatMs = 10000
	}
	if cfg.BackoffMaxMs == 0 {
		cfg.BackoffMaxMs = 60000
	}
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}
	return &Client{
		cfg:      cfg,
		frames:   make(chan *stomp.Message, 64),
		stopChan: make(chan struct{}),
	}
}

// State returns the Client's current lifecycle state.
func (c *Client) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Frames returns the channel of raw push-port frame bodies. It is never
// closed while the Client is running; it is an infinite, restartable
// sequence per spec.md §4.D.
func (c *Client) Frames() <-chan *stomp.Message {
	return c.frames
}

// Start begins the connect/subscribe/receive/reconnect loop in a background
// goroutine. It returns immediately.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop requests a clean shutdown: the run loop unsubscribes and disconnects,
// and Stop waits up to 2s for it. If the loop has not finished by then, Stop
// logs that and returns without closing the connection itself.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		c.cfg.Log.Println("pushport: graceful shutdown window exceeded, no longer waiting")
	}
	c.setState(StateStopped)
}

func (c *Client) run() {
	defer c.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		err := c.connectAndReceive()
		if err == nil {
			// connectAndReceive only returns nil on clean shutdown.
			return
		}

		c.cfg.Log.Printf("pushport: connection lost: %v", err)
		c.setState(StateReconnecting)

		if atomic.CompareAndSwapInt32(&c.frameReceived, 1, 0) {
			// A successful frame arrived since the last reconnect: restart
			// the back-off from its floor rather than continuing to double
			// toward the cap, per spec.md §4.D.
			backoff = time.Second
		}

		mult := time.Duration(1)
		if isAuthFailure(err) {
			streak := atomic.AddInt32(&c.authFailureStreak, 1)
			mult = 4
			if streak == 1 {
				c.cfg.Log.Printf("pushport: authentication rejected, backing off x%d", mult)
			}
		} else {
			atomic.StoreInt32(&c.authFailureStreak, 0)
		}

		wait := jitter(backoff * mult)
		select {
		case <-time.After(wait):
		case <-c.stopChan:
			return
		}

		maxBackoff := time.Duration(c.cfg.BackoffMaxMs) * time.Millisecond
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// jitter applies +/-20% jitter to d, per spec.md §4.D.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

type authError struct{ error }

func isAuthFailure(err error) bool {
	_, ok := err.(authError)
	return ok
}

func (c *Client) connectAndReceive() error {
	c.setState(StateConnecting)

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	var conn net.Conn
	var err error
	if c.cfg.UseTLS {
		conn, err = tls.Dial("tcp", addr, &tls.Config{ServerName: c.cfg.Host})
	} else {
		conn, err = net.DialTimeout("tcp", addr, 10*time.Second)
	}
	if err != nil {
		return fmt.Errorf("pushport: dial: %w", err)
	}

	hb := time.Duration(c.cfg.HeartbeatMs) * time.Millisecond
	stompConn, err := stomp.Connect(conn,
		stomp.ConnOpt.Login(c.cfg.User, c.cfg.Password),
		stomp.ConnOpt.HeartBeat(hb, hb),
	)
	if err != nil {
		conn.Close()
		if isSTOMPAuthError(err) {
			return authError{err}
		}
		return fmt.Errorf("pushport: connect: %w", err)
	}
	defer stompConn.Disconnect()

	c.setState(StateConnected)
	atomic.StoreInt32(&c.authFailureStreak, 0)

	sub, err := stompConn.Subscribe(c.cfg.Topic, stomp.AckAuto)
	if err != nil {
		return fmt.Errorf("pushport: subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.setState(StateSubscribed)
	c.cfg.Log.Printf("pushport: subscribed to %s", c.cfg.Topic)

	for {
		select {
		case <-c.stopChan:
			return nil
		case msg, ok := <-sub.C:
			if !ok {
				return fmt.Errorf("pushport: subscription channel closed")
			}
			if msg.Err != nil {
				return fmt.Errorf("pushport: frame error: %w", msg.Err)
			}
			select {
			case c.frames <- msg:
				atomic.StoreInt32(&c.frameReceived, 1)
			case <-c.stopChan:
				return nil
			}
		}
	}
}

// authRejectionPhrases are substrings STOMP brokers conventionally put in
// the message header of an ERROR frame sent in reply to a CONNECT carrying
// bad credentials. go-stomp does not expose a distinct error type for this
// case (Connect's error is a plain error built from the frame's message
// header), so matching on text is the only way to tell a credential
// rejection apart from a dial timeout or a transient broker/protocol error.
var authRejectionPhrases = []string{
	"access denied",
	"unauthorized",
	"authentication",
	"invalid login",
	"bad login",
	"bad credentials",
}

func isSTOMPAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range authRejectionPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
