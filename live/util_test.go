package live

import (
	"flag"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// streamServer is an in-test stand-in for a resource's stream endpoint.
// It can refuse upgrades to simulate a down server and drop accepted
// channels to simulate failures.
type streamServer struct {
	server *httptest.Server

	accepted chan *websocket.Conn
	received chan []byte

	stateLock sync.Mutex
	conns     []*websocket.Conn
	refuse    bool
}

func newStreamServer() *streamServer {
	streamServer := &streamServer{
		accepted: make(chan *websocket.Conn, 32),
		received: make(chan []byte, 32),
	}
	streamServer.server = httptest.NewServer(http.HandlerFunc(streamServer.handle))
	return streamServer
}

func (self *streamServer) handle(w http.ResponseWriter, r *http.Request) {
	self.stateLock.Lock()
	refuse := self.refuse
	self.stateLock.Unlock()
	if refuse {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	self.stateLock.Lock()
	self.conns = append(self.conns, ws)
	self.stateLock.Unlock()
	self.accepted <- ws

	go func() {
		for {
			_, message, err := ws.ReadMessage()
			if err != nil {
				return
			}
			self.received <- message
		}
	}()
}

// url returns the resource url clients subscribe to
func (self *streamServer) url() string {
	return self.server.URL
}

func (self *streamServer) setRefuse(refuse bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.refuse = refuse
}

// push writes a frame on the most recently accepted channel
func (self *streamServer) push(t *testing.T, frame string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if len(self.conns) == 0 {
		t.Fatal("push with no accepted channel")
	}
	ws := self.conns[len(self.conns)-1]
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("push error = %s", err)
	}
}

// dropConns closes every accepted channel, simulating a server side drop
func (self *streamServer) dropConns() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	for _, ws := range self.conns {
		ws.Close()
	}
	self.conns = []*websocket.Conn{}
}

func (self *streamServer) stop() {
	self.dropConns()
	self.server.Close()
}

func waitFor[T any](t *testing.T, c chan T, timeout time.Duration) T {
	select {
	case v := <-c:
		return v
	case <-time.After(timeout):
		t.Fatal("timeout waiting on channel")
		var empty T
		return empty
	}
}

func expectNone[T any](t *testing.T, c chan T, wait time.Duration) {
	select {
	case <-c:
		t.Fatal("unexpected value on channel")
	case <-time.After(wait):
	}
}

func waitForState(t *testing.T, subscription *Subscription, state ConnectionState, timeout time.Duration) {
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		if subscription.State() == state {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for state %s (state = %s)", state, subscription.State())
}

// testSubscribeSettings keeps redial delays short enough for tests
func testSubscribeSettings() *SubscribeSettings {
	settings := DefaultSubscribeSettings()
	settings.ReconnectInitialDelay = 20 * time.Millisecond
	settings.ReconnectMaxDelay = 100 * time.Millisecond
	return settings
}
