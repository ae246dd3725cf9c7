package live

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/pagelove/dom-primitives/dom"
)

type SyncClientSettings struct {
	// how long a recorded local mutation suppresses its echoed update
	EchoTtl time.Duration
}

func DefaultSyncClientSettings() *SyncClientSettings {
	return &SyncClientSettings{
		EchoTtl: 5 * time.Second,
	}
}

// SyncClient keeps one local document in sync with the update streams it
// subscribes to. It shares a single connection per resource url between
// that resource's subscriptions and serializes all document mutation, so a
// frame applies atomically no matter how many connections feed the same
// document.
type SyncClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	clientId Id
	doc      *dom.Document
	settings *SyncClientSettings
	echo     *EchoTracker

	// held across one whole frame
	applyLock sync.Mutex

	stateLock     sync.Mutex
	connections   map[string]*Connection
	subscriptions map[string][]*Subscription
}

func NewSyncClientWithDefaults(ctx context.Context, doc *dom.Document) *SyncClient {
	return NewSyncClient(ctx, doc, DefaultSyncClientSettings())
}

func NewSyncClient(ctx context.Context, doc *dom.Document, settings *SyncClientSettings) *SyncClient {
	cancelCtx, cancel := context.WithCancel(ctx)

	syncClient := &SyncClient{
		ctx:           cancelCtx,
		cancel:        cancel,
		clientId:      NewId(),
		doc:           doc,
		settings:      settings,
		connections:   map[string]*Connection{},
		subscriptions: map[string][]*Subscription{},
	}
	syncClient.echo = newEchoTracker(cancelCtx, settings.EchoTtl)
	return syncClient
}

func (self *SyncClient) Document() *dom.Document {
	return self.doc
}

func (self *SyncClient) EchoTracker() *EchoTracker {
	return self.echo
}

// Subscribe opens a document scope subscription on the resource.
func (self *SyncClient) Subscribe(resourceUrl string) (*Subscription, error) {
	return self.SubscribeWithSettings(resourceUrl, "", DefaultSubscribeSettings())
}

// SubscribeAddress opens a node scope subscription: only updates whose
// address matches exactly are delivered.
func (self *SyncClient) SubscribeAddress(resourceUrl string, address string) (*Subscription, error) {
	return self.SubscribeWithSettings(resourceUrl, address, DefaultSubscribeSettings())
}

// SubscribeWithSettings opens a subscription on the resource. The first
// subscription to a resource dials the connection and fixes its settings;
// later subscriptions share it as is.
func (self *SyncClient) SubscribeWithSettings(resourceUrl string, address string, settings *SubscribeSettings) (*Subscription, error) {
	self.stateLock.Lock()
	connection, ok := self.connections[resourceUrl]
	if !ok {
		var err error
		connection, err = newConnection(self.ctx, self, resourceUrl, settings)
		if err != nil {
			self.stateLock.Unlock()
			return nil, err
		}
		self.connections[resourceUrl] = connection
	}
	subscription := newSubscription(self, connection, resourceUrl, address)
	self.subscriptions[resourceUrl] = append(self.subscriptions[resourceUrl], subscription)
	self.stateLock.Unlock()

	glog.V(1).Infof("[sync]%s subscribe %s %q\n", self.clientId, resourceUrl, address)
	connection.start()
	return subscription, nil
}

func (self *SyncClient) unsubscribe(subscription *Subscription) {
	var closeConnection *Connection

	self.stateLock.Lock()
	subscriptions := slices.DeleteFunc(
		slices.Clone(self.subscriptions[subscription.resourceUrl]),
		func(s *Subscription) bool {
			return s == subscription
		},
	)
	if len(subscriptions) == 0 {
		delete(self.subscriptions, subscription.resourceUrl)
		if connection, ok := self.connections[subscription.resourceUrl]; ok {
			delete(self.connections, subscription.resourceUrl)
			closeConnection = connection
		}
	} else {
		self.subscriptions[subscription.resourceUrl] = subscriptions
	}
	self.stateLock.Unlock()

	if closeConnection != nil {
		glog.V(1).Infof("[sync]%s last subscription closed %s\n", self.clientId, subscription.resourceUrl)
		closeConnection.Close()
	}
}

func (self *SyncClient) subscriptionsFor(connection *Connection) []*Subscription {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.subscriptions[connection.resourceUrl])
}

// handleFrame decodes and applies one inbound frame. It runs on the
// connection's read goroutine. applyLock spans the whole frame so the
// batch is atomic: no observer sees a partially applied frame.
func (self *SyncClient) handleFrame(connection *Connection, payload []byte) {
	self.applyLock.Lock()
	defer self.applyLock.Unlock()

	items, err := decodeFrame(payload)
	if err != nil {
		glog.Infof("[sync]%s frame decode error = %s\n", self.clientId, err)
		for _, subscription := range self.subscriptionsFor(connection) {
			subscription.decodeError(string(payload), err)
		}
		return
	}

	for i := range items {
		item := &items[i]
		if item.err != nil {
			glog.Infof("[sync]%s section decode error = %s\n", self.clientId, item.err)
			// no reliable address on a decode failure, deliver to every scope
			for _, subscription := range self.subscriptionsFor(connection) {
				subscription.decodeError(item.section, item.err)
			}
			continue
		}

		update := item.update
		if self.echo.IsEcho(update.Address, update.Method) {
			glog.V(1).Infof("[sync]%s suppress echo %s %s\n", self.clientId, update.Method, update.Address)
			continue
		}

		result, err := applyUpdate(self.doc, update)
		if err != nil {
			glog.Infof("[sync]%s apply error %s %s = %s\n", self.clientId, update.Method, update.Address, err)
			for _, subscription := range self.subscriptionsFor(connection) {
				if subscription.accepts(update.Address) {
					subscription.applyError(update, err)
				}
			}
			continue
		}

		glog.V(2).Infof("[sync]%s applied %s %s\n", self.clientId, update.Method, update.Address)
		for _, subscription := range self.subscriptionsFor(connection) {
			if subscription.accepts(update.Address) {
				subscription.updateApplied(update, result)
			}
		}
	}
}

func (self *SyncClient) connectionUp(connection *Connection) {
	for _, subscription := range self.subscriptionsFor(connection) {
		subscription.connected()
	}
}

func (self *SyncClient) connectionDown(connection *Connection, err error) {
	for _, subscription := range self.subscriptionsFor(connection) {
		subscription.disconnected(err)
	}
}

// Close tears down every connection and stops the echo sweep.
func (self *SyncClient) Close() {
	self.stateLock.Lock()
	connections := maps.Values(self.connections)
	self.connections = map[string]*Connection{}
	self.subscriptions = map[string][]*Subscription{}
	self.stateLock.Unlock()

	for _, connection := range connections {
		connection.Close()
	}
	self.cancel()
}
