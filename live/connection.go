package live

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type SubscribeSettings struct {
	// redial automatically after an involuntary close
	Reconnect             bool
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	WsHandshakeTimeout    time.Duration
	WriteTimeout          time.Duration
}

func DefaultSubscribeSettings() *SubscribeSettings {
	return &SubscribeSettings{
		Reconnect:             true,
		ReconnectInitialDelay: 1 * time.Second,
		ReconnectMaxDelay:     30 * time.Second,
		WsHandshakeTimeout:    2 * time.Second,
		WriteTimeout:          5 * time.Second,
	}
}

// reconnectPolicy schedules the wait before each redial attempt. The delay
// doubles after every attempt up to the max and resets when a channel
// opens.
type reconnectPolicy struct {
	initialDelay time.Duration
	maxDelay     time.Duration

	currentDelay time.Duration
}

func newReconnectPolicy(initialDelay time.Duration, maxDelay time.Duration) *reconnectPolicy {
	return &reconnectPolicy{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		currentDelay: initialDelay,
	}
}

// NextDelay returns the wait for the coming attempt and advances the
// schedule.
func (self *reconnectPolicy) NextDelay() time.Duration {
	delay := self.currentDelay
	nextDelay := 2 * delay
	if self.maxDelay < nextDelay {
		nextDelay = self.maxDelay
	}
	self.currentDelay = nextDelay
	return delay
}

func (self *reconnectPolicy) Reset() {
	self.currentDelay = self.initialDelay
}

// Connection owns one websocket channel to a resource's stream endpoint and
// keeps it alive per its settings. The sync client creates one connection
// per resource url and shares it between that resource's subscriptions.
type Connection struct {
	ctx    context.Context
	cancel context.CancelFunc

	client       *SyncClient
	connectionId Id
	resourceUrl  string
	endpointUrl  string
	settings     *SubscribeSettings

	policy   *reconnectPolicy
	retryNow chan struct{}

	stateLock        sync.Mutex
	state            ConnectionState
	running          bool
	intentionalClose bool
	ws               *websocket.Conn

	writeLock sync.Mutex
}

func newConnection(ctx context.Context, client *SyncClient, resourceUrl string, settings *SubscribeSettings) (*Connection, error) {
	endpointUrl, err := deriveEndpoint(resourceUrl)
	if err != nil {
		return nil, err
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	connection := &Connection{
		ctx:          cancelCtx,
		cancel:       cancel,
		client:       client,
		connectionId: NewId(),
		resourceUrl:  resourceUrl,
		endpointUrl:  endpointUrl,
		settings:     settings,
		policy:       newReconnectPolicy(settings.ReconnectInitialDelay, settings.ReconnectMaxDelay),
		retryNow:     make(chan struct{}, 1),
		state:        ConnectionStateIdle,
	}
	return connection, nil
}

// deriveEndpoint maps a resource url to its stream endpoint: http becomes
// ws, https becomes wss, same host and path.
func deriveEndpoint(resourceUrl string) (string, error) {
	u, err := url.Parse(resourceUrl)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a stream endpoint
	default:
		return "", fmt.Errorf("cannot derive stream endpoint from %q", resourceUrl)
	}
	return u.String(), nil
}

func (self *Connection) start() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.running || self.ctx.Err() != nil {
		return
	}
	self.running = true
	go self.run()
}

func (self *Connection) run() {
	defer func() {
		self.stateLock.Lock()
		self.running = false
		self.ws = nil
		self.state = ConnectionStateClosed
		self.stateLock.Unlock()
	}()

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		self.setState(ConnectionStateConnecting)
		glog.V(1).Infof("[conn]%s connect %s\n", self.connectionId, self.endpointUrl)

		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(self.ctx, self.endpointUrl, nil)
		if err == nil {
			self.stateLock.Lock()
			self.ws = ws
			self.state = ConnectionStateOpen
			self.stateLock.Unlock()
			self.policy.Reset()
			// drop any stale retry token
			select {
			case <-self.retryNow:
			default:
			}
			self.client.connectionUp(self)

			readErr := self.readLoop(ws)

			ws.Close()
			self.stateLock.Lock()
			self.ws = nil
			self.state = ConnectionStateClosed
			self.stateLock.Unlock()
			if self.ctx.Err() != nil {
				readErr = nil
			}
			self.client.connectionDown(self, readErr)
		} else {
			if self.ctx.Err() != nil {
				return
			}
			glog.Infof("[conn]%s connect error = %s\n", self.connectionId, err)
			self.setState(ConnectionStateClosed)
			self.client.connectionDown(self, err)
		}

		if self.closed() || !self.settings.Reconnect {
			return
		}

		delay := self.policy.NextDelay()
		self.setState(ConnectionStateReconnectScheduled)
		glog.V(1).Infof("[conn]%s reconnect in %s\n", self.connectionId, delay)
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(delay):
		case <-self.retryNow:
		}
	}
}

func (self *Connection) readLoop(ws *websocket.Conn) error {
	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-self.ctx.Done():
				return nil
			default:
			}
			glog.Infof("[conn]%s<- error = %s\n", self.connectionId, err)
			return err
		}

		switch messageType {
		case websocket.TextMessage:
			glog.V(2).Infof("[conn]%s<- frame %db\n", self.connectionId, len(message))
			self.client.handleFrame(self, message)
		default:
			// mutation frames are text. anything else is outside the protocol
			glog.V(2).Infof("[conn]%s<- other=%d\n", self.connectionId, messageType)
		}
	}
}

func (self *Connection) State() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

// Send writes one text frame upstream. It fails fast with ErrNotConnected
// when the channel is not open; nothing is queued.
func (self *Connection) Send(data []byte) error {
	self.stateLock.Lock()
	ws := self.ws
	state := self.state
	self.stateLock.Unlock()

	if state != ConnectionStateOpen || ws == nil {
		return fmt.Errorf("%w: connection is %s", ErrNotConnected, state)
	}

	self.writeLock.Lock()
	defer self.writeLock.Unlock()
	ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		glog.Infof("[conn]%s-> error = %s\n", self.connectionId, err)
		return err
	}
	glog.V(2).Infof("[conn]%s-> %db\n", self.connectionId, len(data))
	return nil
}

// Reconnect forces an immediate close and redial, skipping any scheduled
// backoff wait. The backoff schedule is not reset; only a successful open
// resets it.
func (self *Connection) Reconnect() {
	self.stateLock.Lock()
	if self.ctx.Err() != nil {
		self.stateLock.Unlock()
		return
	}
	self.intentionalClose = false
	ws := self.ws
	running := self.running
	self.stateLock.Unlock()

	select {
	case self.retryNow <- struct{}{}:
	default:
	}
	if ws != nil {
		ws.Close()
	}
	if !running {
		self.start()
	}
}

// Close tears the channel down for good. A closed connection never
// redials.
func (self *Connection) Close() {
	self.stateLock.Lock()
	self.intentionalClose = true
	ws := self.ws
	self.stateLock.Unlock()

	self.cancel()
	if ws != nil {
		ws.Close()
	}
}

func (self *Connection) setState(state ConnectionState) {
	self.stateLock.Lock()
	self.state = state
	self.stateLock.Unlock()
}

func (self *Connection) closed() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.intentionalClose || self.ctx.Err() != nil
}
