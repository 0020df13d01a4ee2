package runnerplugin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

func TestHTTPStreamStartSessionReadsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "do the thing" {
			t.Errorf("unexpected body %q", body)
		}
		w.Write([]byte(`{"type":"result","subtype":"success"}` + "\n"))
	}))
	defer srv.Close()

	plugin := NewHTTPStream("aiservice", nil)
	sess, err := plugin.StartSession(context.Background(), models.RunnerStartArgs{
		Cmd:  srv.URL,
		Args: []string{"do the thing"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	concrete := sess.(*httpSession)

	out, err := io.ReadAll(concrete.Stdout())
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected body content")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := concrete.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
}

func TestHTTPStreamStartSessionNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	plugin := NewHTTPStream("aiservice", nil)
	sess, err := plugin.StartSession(context.Background(), models.RunnerStartArgs{Cmd: srv.URL, Args: []string{"x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	concrete := sess.(*httpSession)
	_, _ = io.ReadAll(concrete.Stdout())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := concrete.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500 exit code, got %d", code)
	}
}
