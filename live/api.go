package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/pagelove/dom-primitives/dom"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// RemoteApi issues rest requests against the live resource. Mutations the
// server acknowledges are recorded with the echo tracker before the
// callback fires, so the stream's broadcast copy of a local edit is
// suppressed instead of re-applied.
//
// Targets are compound: an optional locator then a selector, for example
// "https://pages.example/doc/7 #items". A bare selector resolves against
// the api's resource url. The selector rides a Range header on the wire.
type RemoteApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	resourceUrl string

	// nil disables echo recording
	echo *EchoTracker
}

func NewRemoteApi(resourceUrl string, echo *EchoTracker) *RemoteApi {
	return NewRemoteApiWithContext(context.Background(), resourceUrl, echo)
}

func NewRemoteApiWithContext(ctx context.Context, resourceUrl string, echo *EchoTracker) *RemoteApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &RemoteApi{
		ctx:         cancelCtx,
		cancel:      cancel,
		resourceUrl: resourceUrl,
		echo:        echo,
	}
}

// RemoteApi returns an api bound to this client's echo tracker, so local
// edits made through it do not bounce back off the resource's stream.
func (self *SyncClient) RemoteApi(resourceUrl string) *RemoteApi {
	return NewRemoteApiWithContext(self.ctx, resourceUrl, self.echo)
}

type FetchArgs struct {
	Target string
}

type FetchResult struct {
	Status int
	Body   string
}

type FetchCallback apiCallback[*FetchResult]

func (self *RemoteApi) Get(fetch *FetchArgs, callback FetchCallback) {
	go self.fetch(fetch, callback)
}

func (self *RemoteApi) GetSync(fetch *FetchArgs) (*FetchResult, error) {
	return self.fetch(fetch, NewNoopApiCallback[*FetchResult]())
}

type MutateArgs struct {
	Target string
	// fragment markup for PUT, POST, and PATCH
	Content string
}

type MutateResult struct {
	Status int
	Body   string
}

type MutateCallback apiCallback[*MutateResult]

func (self *RemoteApi) Put(mutate *MutateArgs, callback MutateCallback) {
	go self.mutate(MethodPut, mutate, callback)
}

func (self *RemoteApi) PutSync(mutate *MutateArgs) (*MutateResult, error) {
	return self.mutate(MethodPut, mutate, NewNoopApiCallback[*MutateResult]())
}

func (self *RemoteApi) Post(mutate *MutateArgs, callback MutateCallback) {
	go self.mutate(MethodPost, mutate, callback)
}

func (self *RemoteApi) PostSync(mutate *MutateArgs) (*MutateResult, error) {
	return self.mutate(MethodPost, mutate, NewNoopApiCallback[*MutateResult]())
}

func (self *RemoteApi) Patch(mutate *MutateArgs, callback MutateCallback) {
	go self.mutate(MethodPatch, mutate, callback)
}

func (self *RemoteApi) PatchSync(mutate *MutateArgs) (*MutateResult, error) {
	return self.mutate(MethodPatch, mutate, NewNoopApiCallback[*MutateResult]())
}

func (self *RemoteApi) Delete(mutate *MutateArgs, callback MutateCallback) {
	go self.mutate(MethodDelete, mutate, callback)
}

func (self *RemoteApi) DeleteSync(mutate *MutateArgs) (*MutateResult, error) {
	return self.mutate(MethodDelete, mutate, NewNoopApiCallback[*MutateResult]())
}

func (self *RemoteApi) fetch(fetch *FetchArgs, callback apiCallback[*FetchResult]) (*FetchResult, error) {
	status, body, err := self.request(MethodGet, fetch.Target, "")
	if err != nil {
		callback.Result(nil, err)
		return nil, err
	}
	result := &FetchResult{
		Status: status,
		Body:   body,
	}
	callback.Result(result, nil)
	return result, nil
}

func (self *RemoteApi) mutate(method Method, mutate *MutateArgs, callback apiCallback[*MutateResult]) (*MutateResult, error) {
	content := mutate.Content
	if method == MethodDelete {
		content = ""
	}
	status, body, err := self.request(method, mutate.Target, content)
	if err != nil {
		callback.Result(nil, err)
		return nil, err
	}

	// the acknowledged mutation will come back on the stream
	if self.echo != nil {
		_, selector := dom.SplitTarget(mutate.Target)
		if selector != "" {
			switch method {
			case MethodPut, MethodPost, MethodDelete:
				self.echo.Record(selector, method)
			}
		}
	}

	result := &MutateResult{
		Status: status,
		Body:   body,
	}
	callback.Result(result, nil)
	return result, nil
}

func (self *RemoteApi) request(method Method, target string, content string) (int, string, error) {
	locator, selector := dom.SplitTarget(target)
	if locator == "" {
		locator = self.resourceUrl
	}

	var body io.Reader
	if content != "" {
		body = strings.NewReader(content)
	}
	req, err := http.NewRequestWithContext(self.ctx, string(method), locator, body)
	if err != nil {
		return 0, "", err
	}
	if content != "" {
		req.Header.Add("Content-Type", "text/html")
	}
	if selector != "" {
		req.Header.Add("Range", fmt.Sprintf("selector=%s", selector))
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		glog.Infof("[api]%s %s error = %s\n", method, target, err)
		return 0, "", err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return r.StatusCode, "", err
	}

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		if errorMessage == "" {
			errorMessage = r.Status
		}
		return r.StatusCode, "", errors.New(errorMessage)
	}

	glog.V(2).Infof("[api]%s %s = %d\n", method, target, r.StatusCode)
	return r.StatusCode, string(responseBodyBytes), nil
}

func (self *RemoteApi) Close() {
	self.cancel()
}
