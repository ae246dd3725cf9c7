package live

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type recordedRequest struct {
	method      string
	path        string
	rangeHeader string
	contentType string
	body        string
}

// recordingServer remembers every request and answers with a fixed status
// and body
type recordingServer struct {
	server *httptest.Server

	stateLock sync.Mutex
	requests  []recordedRequest
	status    int
	body      string
}

func newRecordingServer() *recordingServer {
	recordingServer := &recordingServer{
		status: http.StatusOK,
		body:   "",
	}
	recordingServer.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodyBytes, _ := io.ReadAll(r.Body)
		recordingServer.stateLock.Lock()
		recordingServer.requests = append(recordingServer.requests, recordedRequest{
			method:      r.Method,
			path:        r.URL.Path,
			rangeHeader: r.Header.Get("Range"),
			contentType: r.Header.Get("Content-Type"),
			body:        string(bodyBytes),
		})
		status := recordingServer.status
		body := recordingServer.body
		recordingServer.stateLock.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	return recordingServer
}

func (self *recordingServer) respond(status int, body string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.status = status
	self.body = body
}

func (self *recordingServer) last(t *testing.T) recordedRequest {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if len(self.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	return self.requests[len(self.requests)-1]
}

func TestApiPut(t *testing.T) {
	recordingServer := newRecordingServer()
	defer recordingServer.server.Close()

	api := NewRemoteApi(recordingServer.server.URL, nil)
	defer api.Close()

	result, err := api.PutSync(&MutateArgs{
		Target:  "#status",
		Content: `<div id="status">busy</div>`,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Status, http.StatusOK)

	request := recordingServer.last(t)
	assert.Equal(t, request.method, "PUT")
	assert.Equal(t, request.rangeHeader, "selector=#status")
	assert.Equal(t, request.contentType, "text/html")
	assert.Equal(t, request.body, `<div id="status">busy</div>`)
}

func TestApiGet(t *testing.T) {
	recordingServer := newRecordingServer()
	defer recordingServer.server.Close()
	recordingServer.respond(http.StatusOK, `<div id="status">ok</div>`)

	api := NewRemoteApi(recordingServer.server.URL, nil)
	defer api.Close()

	result, err := api.GetSync(&FetchArgs{
		Target: "#status",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Body, `<div id="status">ok</div>`)

	request := recordingServer.last(t)
	assert.Equal(t, request.method, "GET")
	assert.Equal(t, request.rangeHeader, "selector=#status")
}

func TestApiDelete(t *testing.T) {
	recordingServer := newRecordingServer()
	defer recordingServer.server.Close()

	api := NewRemoteApi(recordingServer.server.URL, nil)
	defer api.Close()

	_, err := api.DeleteSync(&MutateArgs{
		Target: "#items > li:nth-of-type(1)",
	})
	assert.Equal(t, err, nil)

	request := recordingServer.last(t)
	assert.Equal(t, request.method, "DELETE")
	assert.Equal(t, request.rangeHeader, "selector=#items > li:nth-of-type(1)")
	assert.Equal(t, request.body, "")
	assert.Equal(t, request.contentType, "")
}

func TestApiEchoRecording(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recordingServer := newRecordingServer()
	defer recordingServer.server.Close()

	echo := newEchoTracker(ctx, 5*time.Second)
	api := NewRemoteApiWithContext(ctx, recordingServer.server.URL, echo)

	// an acknowledged mutation arms suppression for its echo
	_, err := api.PutSync(&MutateArgs{
		Target:  "#status",
		Content: `<div id="status">busy</div>`,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, echo.IsEcho("#status", MethodPut), true)

	// fetches never arm suppression
	_, err = api.GetSync(&FetchArgs{Target: "#status"})
	assert.Equal(t, err, nil)
	assert.Equal(t, echo.IsEcho("#status", MethodGet), false)

	// a server side patch broadcasts as some other method, so it does not
	// arm suppression either
	_, err = api.PatchSync(&MutateArgs{
		Target:  "#status",
		Content: `<div>delta</div>`,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, echo.IsEcho("#status", MethodPatch), false)
}

func TestApiNoEchoOnFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recordingServer := newRecordingServer()
	defer recordingServer.server.Close()
	recordingServer.respond(http.StatusConflict, "document changed")

	echo := newEchoTracker(ctx, 5*time.Second)
	api := NewRemoteApiWithContext(ctx, recordingServer.server.URL, echo)

	_, err := api.PutSync(&MutateArgs{
		Target:  "#status",
		Content: `<div>x</div>`,
	})
	assert.NotEqual(t, err, nil)
	// the response body is the error message
	assert.Equal(t, err.Error(), "document changed")
	assert.Equal(t, echo.IsEcho("#status", MethodPut), false)
}

func TestApiCompoundTarget(t *testing.T) {
	recordingServer := newRecordingServer()
	defer recordingServer.server.Close()

	api := NewRemoteApi(recordingServer.server.URL, nil)
	defer api.Close()

	_, err := api.PostSync(&MutateArgs{
		Target:  recordingServer.server.URL + "/doc/7 #items",
		Content: `<li>four</li>`,
	})
	assert.Equal(t, err, nil)

	request := recordingServer.last(t)
	assert.Equal(t, request.method, "POST")
	assert.Equal(t, request.path, "/doc/7")
	assert.Equal(t, request.rangeHeader, "selector=#items")
}

func TestApiWholeResource(t *testing.T) {
	recordingServer := newRecordingServer()
	defer recordingServer.server.Close()
	recordingServer.respond(http.StatusOK, applyTestPage)

	api := NewRemoteApi(recordingServer.server.URL, nil)
	defer api.Close()

	// empty target addresses the whole resource, no range header
	result, err := api.GetSync(&FetchArgs{})
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Body, applyTestPage)

	request := recordingServer.last(t)
	assert.Equal(t, request.rangeHeader, "")
}

func TestApiAsyncCallback(t *testing.T) {
	recordingServer := newRecordingServer()
	defer recordingServer.server.Close()

	api := NewRemoteApi(recordingServer.server.URL, nil)
	defer api.Close()

	callback, c := NewBlockingApiCallback[*MutateResult]()
	api.Post(&MutateArgs{
		Target:  "#items",
		Content: `<li>four</li>`,
	}, callback)

	result := waitFor(t, c, 2*time.Second)
	assert.Equal(t, result.Error, nil)
	assert.Equal(t, result.Result.Status, http.StatusOK)
}
