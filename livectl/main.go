package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/fatih/color"

	"github.com/pagelove/dom-primitives/dom"
	"github.com/pagelove/dom-primitives/live"
)

const LiveCtlVersion = "0.0.1"

func main() {
	usage := `Live document control.

Usage:
    livectl tail --url=<url> [--select=<selector>] [--count=<count>] [--no_color]
    livectl get --url=<url> [--select=<selector>]
    livectl put --url=<url> --select=<selector> <content>
    livectl post --url=<url> --select=<selector> <content>
    livectl delete --url=<url> --select=<selector>
    livectl send --url=<url> <frame>

Options:
    -h --help            Show this screen.
    --version            Show version.
    --url=<url>          Resource url.
    --select=<selector>  Node selector address.
    --count=<count>      Exit after this many updates.
    --no_color           Plain output.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], LiveCtlVersion)
	if err != nil {
		panic(err)
	}

	if tail_, _ := opts.Bool("tail"); tail_ {
		tail(opts)
	} else if get_, _ := opts.Bool("get"); get_ {
		get(opts)
	} else if put_, _ := opts.Bool("put"); put_ {
		mutate(opts, live.MethodPut)
	} else if post_, _ := opts.Bool("post"); post_ {
		mutate(opts, live.MethodPost)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		mutate(opts, live.MethodDelete)
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	}
}

func methodColor(method live.Method) *color.Color {
	switch method {
	case live.MethodPut:
		return color.New(color.FgYellow)
	case live.MethodPost:
		return color.New(color.FgGreen)
	case live.MethodDelete:
		return color.New(color.FgRed)
	}
	return color.New(color.Reset)
}

// tail subscribes to the resource and prints updates as they apply
func tail(opts docopt.Opts) {
	url, _ := opts.String("--url")
	selector, _ := opts.String("--select")
	count, _ := opts.Int("--count")
	if noColor, _ := opts.Bool("--no_color"); noColor {
		color.NoColor = true
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doc := fetchDocument(cancelCtx, url)
	client := live.NewSyncClientWithDefaults(cancelCtx, doc)
	defer client.Close()

	var subscription *live.Subscription
	var err error
	if selector == "" {
		subscription, err = client.Subscribe(url)
	} else {
		subscription, err = client.SubscribeAddress(url, selector)
	}
	if err != nil {
		fmt.Printf("Cannot subscribe (%s).\n", err)
		os.Exit(1)
	}

	dim := color.New(color.Faint)
	errColor := color.New(color.FgRed)

	if address := subscription.Address(); address == "" {
		dim.Printf("# tail %s\n", subscription.ResourceUrl())
	} else {
		dim.Printf("# tail %s %s\n", subscription.ResourceUrl(), address)
	}

	subscription.AddConnectCallback(func() {
		dim.Println("# connected")
	})
	subscription.AddDisconnectCallback(func(err error) {
		if err == nil {
			dim.Println("# disconnected")
		} else {
			dim.Printf("# disconnected (%s)\n", err)
		}
	})
	subscription.AddDecodeErrorCallback(func(section string, err error) {
		errColor.Printf("! decode %s: %s\n", err, section)
	})
	subscription.AddApplyErrorCallback(func(update *live.Update, err error) {
		errColor.Printf("! %s %s: %s\n", update.Method, update.Address, err)
	})

	appliedCount := 0
	subscription.AddUpdateCallback(func(update *live.Update, result *live.ApplyResult) {
		methodColor(update.Method).Printf("%s %s\n", update.Method, update.Address)
		if result.Node != nil && update.Method != live.MethodDelete {
			if markup, err := dom.Render(result.Node); err == nil {
				dim.Printf("  %s\n", markup)
			}
		}
		appliedCount += 1
		if 0 < count && count <= appliedCount {
			cancel()
		}
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigs:
	case <-cancelCtx.Done():
	}
}

// fetchDocument pulls the current document, falling back to an empty shell
// when the resource cannot serve one
func fetchDocument(ctx context.Context, url string) *dom.Document {
	api := live.NewRemoteApiWithContext(ctx, url, nil)
	result, err := api.GetSync(&live.FetchArgs{})
	if err == nil {
		doc, parseErr := dom.ParseString(result.Body)
		if parseErr == nil {
			return doc
		}
		err = parseErr
	}
	fmt.Printf("Starting from an empty document (%s).\n", err)
	doc, _ := dom.ParseString("<html><head></head><body></body></html>")
	return doc
}

func get(opts docopt.Opts) {
	url, _ := opts.String("--url")
	selector, _ := opts.String("--select")

	api := live.NewRemoteApi(url, nil)
	result, err := api.GetSync(&live.FetchArgs{
		Target: selector,
	})
	if err != nil {
		fmt.Printf("Get failed (%s).\n", err)
		os.Exit(1)
	}
	fmt.Println(result.Body)
}

func mutate(opts docopt.Opts, method live.Method) {
	url, _ := opts.String("--url")
	selector, _ := opts.String("--select")
	content, _ := opts.String("<content>")

	api := live.NewRemoteApi(url, nil)
	mutateArgs := &live.MutateArgs{
		Target:  selector,
		Content: content,
	}

	var result *live.MutateResult
	var err error
	switch method {
	case live.MethodPut:
		result, err = api.PutSync(mutateArgs)
	case live.MethodPost:
		result, err = api.PostSync(mutateArgs)
	case live.MethodDelete:
		result, err = api.DeleteSync(mutateArgs)
	}
	if err != nil {
		fmt.Printf("%s failed (%s).\n", method, err)
		os.Exit(1)
	}
	fmt.Printf("%s %s = %d\n", method, selector, result.Status)
}

// send pushes one raw frame upstream on an open subscription
func send(opts docopt.Opts) {
	url, _ := opts.String("--url")
	frame, _ := opts.String("<frame>")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doc, _ := dom.ParseString("<html><head></head><body></body></html>")
	client := live.NewSyncClientWithDefaults(cancelCtx, doc)
	defer client.Close()

	subscription, err := client.Subscribe(url)
	if err != nil {
		fmt.Printf("Cannot subscribe (%s).\n", err)
		os.Exit(1)
	}

	end := time.Now().Add(10 * time.Second)
	for subscription.State() != live.ConnectionStateOpen {
		if end.Before(time.Now()) {
			fmt.Printf("Connect timeout.\n")
			os.Exit(1)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := subscription.Send([]byte(frame)); err != nil {
		fmt.Printf("Send failed (%s).\n", err)
		os.Exit(1)
	}
	fmt.Printf("sent %d bytes\n", len(frame))
}
