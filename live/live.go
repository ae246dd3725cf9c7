// Package live keeps a local dom document in sync with a remote resource by
// subscribing to its mutation stream over a websocket. Inbound frames carry
// PUT/POST/DELETE sections that are applied to the document in order, with
// suppression of mutations this client originated itself.
package live

import (
	"bytes"

	"golang.org/x/net/html"

	"github.com/oklog/ulid/v2"
)

type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

// ids from the same source are ordered by create time
func (self Id) LessThan(b Id) bool {
	return bytes.Compare(self[0:16], b[0:16]) < 0
}

type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Update is one decoded mutation from the stream.
// Content holds the section's children, detached from the frame tree.
// DELETE updates carry no content.
type Update struct {
	Method    Method
	Address   string
	SourceUrl string
	Content   []*html.Node
}

type ApplyAction string

const (
	ApplyReplaced ApplyAction = "replaced"
	ApplyAppended ApplyAction = "appended"
	ApplyDeleted  ApplyAction = "deleted"
)

// ApplyResult describes what an update did to the document.
// Node is the inserted element for replaced, the resolved target for
// appended, and the detached node for deleted.
type ApplyResult struct {
	Action ApplyAction
	Node   *html.Node
	Added  []*html.Node
}

type ConnectionState string

const (
	ConnectionStateIdle               ConnectionState = "idle"
	ConnectionStateConnecting         ConnectionState = "connecting"
	ConnectionStateOpen               ConnectionState = "open"
	ConnectionStateClosed             ConnectionState = "closed"
	ConnectionStateReconnectScheduled ConnectionState = "reconnect_scheduled"
)

type UpdateFunction func(update *Update, result *ApplyResult)

type ApplyErrorFunction func(update *Update, err error)

// section is the markup of the section that failed to decode, when known
type DecodeErrorFunction func(section string, err error)

type ConnectFunction func()

// err is nil for an intentional close
type DisconnectFunction func(err error)
