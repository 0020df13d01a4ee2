package runnerplugin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/chaorenex1/memex-cli-sub000/internal/runengine"
	"github.com/chaorenex1/memex-cli-sub000/internal/runsession"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// HTTPStream starts backends that speak a streaming HTTP protocol: the
// resolved RunnerStartArgs.Cmd is a URL, and Args[0] carries the prompt
// body (spec §6 "aiservice" backend strategy).
type HTTPStream struct {
	name   string
	Client *http.Client
}

// NewHTTPStream constructs an HTTP-streaming runner plugin. client
// defaults to http.DefaultClient when nil.
func NewHTTPStream(name string, client *http.Client) *HTTPStream {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStream{name: name, Client: client}
}

func (h *HTTPStream) Name() string { return h.name }

func (h *HTTPStream) StartSession(ctx context.Context, args models.RunnerStartArgs) (runengine.Session, error) {
	var body string
	if len(args.Args) > 0 {
		body = args.Args[0]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, args.Cmd, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range args.Envs {
		if strings.HasPrefix(k, "HEADER_") {
			req.Header.Set(strings.TrimPrefix(k, "HEADER_"), v)
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch request: %w", err)
	}

	sess := &httpSession{
		resp: resp,
		done: make(chan struct{}),
	}
	return sess, nil
}

// httpSession has no separate process-exit signal: the stream "exits" when
// its body reaches EOF or errors, observed via the eofSignaling wrapper
// returned from Stdout.
type httpSession struct {
	resp     *http.Response
	done     chan struct{}
	closeOne sync.Once
}

func (s *httpSession) signalDone() {
	s.closeOne.Do(func() { close(s.done) })
}

func (s *httpSession) Stdout() io.Reader {
	return &eofSignaling{r: s.resp.Body, onDone: s.signalDone}
}
func (s *httpSession) Stderr() io.Reader { return bytes.NewReader(nil) }
func (s *httpSession) Stdin() io.WriteCloser {
	return discardWriteCloser{}
}

func (s *httpSession) Wait(ctx context.Context) (int, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		_ = s.resp.Body.Close()
		return 0, ctx.Err()
	}
	_ = s.resp.Body.Close()
	if s.resp.StatusCode >= 300 {
		return s.resp.StatusCode, nil
	}
	return 0, nil
}

func (s *httpSession) Kill() error {
	return s.resp.Body.Close()
}

type discardWriteCloser struct{}

func (discardWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriteCloser) Close() error                { return nil }

// eofSignaling wraps a reader and invokes onDone exactly once, the first
// time Read returns a non-nil error (EOF or otherwise).
type eofSignaling struct {
	r      io.Reader
	onDone func()
	fired  bool
}

func (e *eofSignaling) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && !e.fired {
		e.fired = true
		e.onDone()
	}
	return n, err
}

var (
	_ runsession.RunnerSession = (*httpSession)(nil)
	_ runengine.RunnerPlugin   = (*HTTPStream)(nil)
)
