package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/net/html"

	"github.com/pagelove/dom-primitives/dom"
	"github.com/pagelove/dom-primitives/live"
)

const LiveSimVersion = "0.0.1"

const seedDocument = `<!DOCTYPE html>
<html>
<head><title>livesim</title></head>
<body>
<div id="app">
	<ul id="items">
		<li class="item">item 0</li>
	</ul>
	<div id="status">tick 0</div>
</div>
</body>
</html>`

func main() {
	usage := `Live document simulator.

Serves a demo document and pushes a scripted mutation frame on an interval.
One url serves the document over http, the stream over ws, and accepts
PUT/POST/DELETE with a "Range: selector=..." header.

Usage:
    livesim serve [--port=<port>] [--interval=<interval>]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --port=<port>          Listen port [default: 8080].
    --interval=<interval>  Push interval in milliseconds [default: 1000].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], LiveSimVersion)
	if err != nil {
		panic(err)
	}

	flag.Set("logtostderr", "true")

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")
	intervalMillis, _ := opts.Int("--interval")

	doc, err := dom.ParseString(seedDocument)
	if err != nil {
		panic(err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	documentSim := &DocumentSim{
		ctx:      cancelCtx,
		interval: time.Duration(intervalMillis) * time.Millisecond,
		doc:      doc,
		conns:    map[*websocket.Conn]bool{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	go documentSim.run()

	addr := fmt.Sprintf(":%d", port)
	glog.Infof("[sim]listening on %s\n", addr)
	http.HandleFunc("/", documentSim.handle)
	if err := http.ListenAndServe(addr, nil); err != nil {
		panic(err)
	}
}

// DocumentSim owns the demo document and pushes scripted mutation frames to
// every subscribed stream. REST mutations apply to the document and
// broadcast too, so edits made through the api fan out like the script's.
type DocumentSim struct {
	ctx      context.Context
	interval time.Duration
	upgrader websocket.Upgrader

	stateLock sync.Mutex
	doc       *dom.Document
	conns     map[*websocket.Conn]bool
	tick      int
}

func (self *DocumentSim) run() {
	ticker := time.NewTicker(self.interval)
	defer ticker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
		}
		self.pushTick()
	}
}

// pushTick applies the scripted mutations and broadcasts them as one frame
func (self *DocumentSim) pushTick() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.tick += 1
	sections := []string{}

	itemContent := fmt.Sprintf(`<li class="item">item %d</li>`, self.tick)
	if err := self.applyLocked(live.MethodPost, "#items", itemContent); err == nil {
		sections = append(sections, sectionMarkup(live.MethodPost, "#items", itemContent))
	}

	statusContent := fmt.Sprintf(`<div id="status">tick %d</div>`, self.tick)
	if err := self.applyLocked(live.MethodPut, "#status", statusContent); err == nil {
		sections = append(sections, sectionMarkup(live.MethodPut, "#status", statusContent))
	}

	// trim the list back periodically
	if self.tick%5 == 0 {
		oldest := "#items > li:nth-of-type(1)"
		if err := self.applyLocked(live.MethodDelete, oldest, ""); err == nil {
			sections = append(sections, sectionMarkup(live.MethodDelete, oldest, ""))
		}
	}

	if len(sections) == 0 {
		return
	}
	self.broadcastLocked(strings.Join(sections, ""))
}

func sectionMarkup(method live.Method, selector string, content string) string {
	return fmt.Sprintf(`<div data-method="%s" data-target="%s">%s</div>`,
		method, html.EscapeString(selector), content)
}

// applyLocked mutates the sim's own document the way subscribers will
func (self *DocumentSim) applyLocked(method live.Method, selector string, content string) error {
	target, err := self.doc.First(selector)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("no match for %q", selector)
	}

	switch method {
	case live.MethodPut:
		nodes, err := dom.ParseFragment(content)
		if err != nil {
			return err
		}
		replacement, ok := dom.SoleElement(nodes)
		if !ok {
			return fmt.Errorf("put needs exactly one element")
		}
		return dom.Replace(target, replacement)
	case live.MethodPost:
		nodes, err := dom.ParseFragment(content)
		if err != nil {
			return err
		}
		dom.AppendChildren(target, dom.ContentNodes(nodes))
		return nil
	case live.MethodDelete:
		dom.Detach(target)
		return nil
	}
	return fmt.Errorf("unsupported method %s", method)
}

func (self *DocumentSim) broadcastLocked(frame string) {
	for ws := range self.conns {
		ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			glog.Infof("[sim]-> error = %s\n", err)
			delete(self.conns, ws)
			ws.Close()
		}
	}
}

func (self *DocumentSim) handle(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		self.handleStream(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		self.handleGet(w, r)
	case http.MethodPut, http.MethodPost, http.MethodDelete:
		self.handleMutate(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (self *DocumentSim) handleGet(w http.ResponseWriter, r *http.Request) {
	selector := rangeSelector(r.Header.Get("Range"))

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if selector == "" {
		markup, err := self.doc.Render()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, markup)
		return
	}

	target, err := self.doc.First(selector)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if target == nil {
		http.Error(w, fmt.Sprintf("no match for %q", selector), http.StatusNotFound)
		return
	}
	markup, err := dom.Render(target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	io.WriteString(w, markup)
}

func (self *DocumentSim) handleMutate(w http.ResponseWriter, r *http.Request) {
	selector := rangeSelector(r.Header.Get("Range"))
	if selector == "" {
		http.Error(w, "a Range selector is required", http.StatusBadRequest)
		return
	}
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	method := live.Method(r.Method)
	content := string(bodyBytes)

	self.stateLock.Lock()
	applyErr := self.applyLocked(method, selector, content)
	if applyErr == nil {
		self.broadcastLocked(sectionMarkup(method, selector, content))
	}
	self.stateLock.Unlock()

	if applyErr != nil {
		http.Error(w, applyErr.Error(), http.StatusUnprocessableEntity)
		return
	}
	glog.Infof("[sim]%s %s\n", method, selector)
	w.WriteHeader(http.StatusOK)
}

func (self *DocumentSim) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[sim]upgrade error = %s\n", err)
		return
	}

	self.stateLock.Lock()
	self.conns[ws] = true
	count := len(self.conns)
	self.stateLock.Unlock()
	glog.Infof("[sim]stream open (%d)\n", count)

	go func() {
		defer func() {
			self.stateLock.Lock()
			delete(self.conns, ws)
			self.stateLock.Unlock()
			ws.Close()
			glog.Infof("[sim]stream closed\n")
		}()

		for {
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				return
			}
			// client sends are logged, the script is the only stream writer
			if messageType == websocket.TextMessage {
				glog.Infof("[sim]<- %s\n", message)
			}
		}
	}()
}

// rangeSelector pulls the selector out of a "selector=..." range header
func rangeSelector(rangeHeader string) string {
	if !strings.HasPrefix(rangeHeader, "selector=") {
		return ""
	}
	return strings.TrimPrefix(rangeHeader, "selector=")
}
