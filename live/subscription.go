package live

import (
	"sync"

	"github.com/golang/glog"
)

// Subscription is a live handle on one resource's update stream. An empty
// address subscribes at document scope and sees every update on the
// resource; a non-empty address subscribes at node scope and sees only
// updates whose address matches it exactly.
//
// Callbacks run synchronously on the connection's read goroutine, in frame
// order. A slow callback therefore backpressures the stream instead of
// letting the document run ahead of its listeners.
type Subscription struct {
	subscriptionId Id

	client      *SyncClient
	connection  *Connection
	resourceUrl string
	address     string

	updateCallbacks      *CallbackList[UpdateFunction]
	applyErrorCallbacks  *CallbackList[ApplyErrorFunction]
	decodeErrorCallbacks *CallbackList[DecodeErrorFunction]
	connectCallbacks     *CallbackList[ConnectFunction]
	disconnectCallbacks  *CallbackList[DisconnectFunction]

	stateLock sync.Mutex
	closed    bool
}

func newSubscription(client *SyncClient, connection *Connection, resourceUrl string, address string) *Subscription {
	return &Subscription{
		subscriptionId:       NewId(),
		client:               client,
		connection:           connection,
		resourceUrl:          resourceUrl,
		address:              address,
		updateCallbacks:      NewCallbackList[UpdateFunction](),
		applyErrorCallbacks:  NewCallbackList[ApplyErrorFunction](),
		decodeErrorCallbacks: NewCallbackList[DecodeErrorFunction](),
		connectCallbacks:     NewCallbackList[ConnectFunction](),
		disconnectCallbacks:  NewCallbackList[DisconnectFunction](),
	}
}

func (self *Subscription) ResourceUrl() string {
	return self.resourceUrl
}

func (self *Subscription) Address() string {
	return self.address
}

func (self *Subscription) AddUpdateCallback(updateCallback UpdateFunction) func() {
	callbackId := self.updateCallbacks.Add(updateCallback)
	return func() {
		self.updateCallbacks.Remove(callbackId)
	}
}

func (self *Subscription) AddApplyErrorCallback(applyErrorCallback ApplyErrorFunction) func() {
	callbackId := self.applyErrorCallbacks.Add(applyErrorCallback)
	return func() {
		self.applyErrorCallbacks.Remove(callbackId)
	}
}

func (self *Subscription) AddDecodeErrorCallback(decodeErrorCallback DecodeErrorFunction) func() {
	callbackId := self.decodeErrorCallbacks.Add(decodeErrorCallback)
	return func() {
		self.decodeErrorCallbacks.Remove(callbackId)
	}
}

func (self *Subscription) AddConnectCallback(connectCallback ConnectFunction) func() {
	callbackId := self.connectCallbacks.Add(connectCallback)
	return func() {
		self.connectCallbacks.Remove(callbackId)
	}
}

func (self *Subscription) AddDisconnectCallback(disconnectCallback DisconnectFunction) func() {
	callbackId := self.disconnectCallbacks.Add(disconnectCallback)
	return func() {
		self.disconnectCallbacks.Remove(callbackId)
	}
}

func (self *Subscription) State() ConnectionState {
	return self.connection.State()
}

// Send writes a raw payload upstream on the shared connection.
func (self *Subscription) Send(data []byte) error {
	return self.connection.Send(data)
}

// Reconnect forces the shared connection to close and redial now.
func (self *Subscription) Reconnect() {
	self.connection.Reconnect()
}

// Close detaches the subscription. The shared connection stays up while
// other subscriptions still reference it and closes with the last one.
func (self *Subscription) Close() {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	self.stateLock.Unlock()

	self.client.unsubscribe(self)
}

// accepts filters updates by scope
func (self *Subscription) accepts(address string) bool {
	return self.address == "" || self.address == address
}

func (self *Subscription) updateApplied(update *Update, result *ApplyResult) {
	for _, updateCallback := range self.updateCallbacks.Get() {
		self.guard("update", func() {
			updateCallback(update, result)
		})
	}
}

func (self *Subscription) applyError(update *Update, err error) {
	for _, applyErrorCallback := range self.applyErrorCallbacks.Get() {
		self.guard("apply error", func() {
			applyErrorCallback(update, err)
		})
	}
}

func (self *Subscription) decodeError(section string, err error) {
	for _, decodeErrorCallback := range self.decodeErrorCallbacks.Get() {
		self.guard("decode error", func() {
			decodeErrorCallback(section, err)
		})
	}
}

func (self *Subscription) connected() {
	for _, connectCallback := range self.connectCallbacks.Get() {
		self.guard("connect", func() {
			connectCallback()
		})
	}
}

func (self *Subscription) disconnected(err error) {
	for _, disconnectCallback := range self.disconnectCallbacks.Get() {
		self.guard("disconnect", func() {
			disconnectCallback(err)
		})
	}
}

// guard keeps a panicking callback from taking down the stream loop
func (self *Subscription) guard(tag string, callback func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[sub]%s %s callback panic = %s\n", self.subscriptionId, tag, r)
		}
	}()
	callback()
}
