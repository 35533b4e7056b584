package gateway

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openpista/openpista/pkg/models"
)

type stubRuntime struct {
	content string
	err     error
	calls   []models.ChannelEvent
	mu      sync.Mutex
}

func (r *stubRuntime) Process(ctx context.Context, channelID, sessionID, userMessage, skillsContext string) (string, models.TokenUsage, error) {
	r.mu.Lock()
	r.calls = append(r.calls, models.ChannelEvent{ChannelID: channelID, SessionID: sessionID, UserMessage: userMessage})
	r.mu.Unlock()
	return r.content, models.TokenUsage{}, r.err
}

type stubRouter struct {
	mu        sync.Mutex
	responses []models.AgentResponse
	received  chan models.AgentResponse
}

func newStubRouter() *stubRouter {
	return &stubRouter{received: make(chan models.AgentResponse, 4)}
}

func (r *stubRouter) SendResponse(resp models.AgentResponse) {
	r.mu.Lock()
	r.responses = append(r.responses, resp)
	r.mu.Unlock()
	r.received <- resp
}

func TestGateway_EnqueueDropsWhenFull(t *testing.T) {
	g := New(&stubRuntime{}, 1)
	if !g.Enqueue(models.ChannelEvent{ChannelID: "mobile:d1:r1"}) {
		t.Fatal("expected first enqueue to succeed")
	}
	if g.Enqueue(models.ChannelEvent{ChannelID: "mobile:d1:r2"}) {
		t.Fatal("expected second enqueue to report the queue full")
	}
}

func TestGateway_DispatchRoutesByChannelPrefix(t *testing.T) {
	runtime := &stubRuntime{content: "hello back"}
	g := New(runtime, 8)
	router := newStubRouter()
	g.RegisterRouter("mobile", router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx, "")

	g.Enqueue(models.ChannelEvent{ChannelID: "mobile:d1:r1", SessionID: "mobile:d1", UserMessage: "hi"})

	select {
	case resp := <-router.received:
		if resp.Content != "hello back" {
			t.Errorf("Content = %q, want %q", resp.Content, "hello back")
		}
		if resp.IsError {
			t.Error("expected IsError=false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed response")
	}
}

func TestGateway_DispatchHandlesRuntimeError(t *testing.T) {
	runtime := &stubRuntime{err: errors.New("provider unavailable")}
	g := New(runtime, 8)
	router := newStubRouter()
	g.RegisterRouter("mobile", router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx, "")

	g.Enqueue(models.ChannelEvent{ChannelID: "mobile:d1:r1", SessionID: "mobile:d1", UserMessage: "hi"})

	select {
	case resp := <-router.received:
		if !resp.IsError {
			t.Error("expected IsError=true when runtime.Process fails")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed response")
	}
}

func TestGateway_RouteWarnsOnUnknownPrefix(t *testing.T) {
	runtime := &stubRuntime{content: "ok"}
	g := New(runtime, 8)
	var logs bytes.Buffer
	g.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	// No router registered for "cli" — route() should just log and return.
	g.route(models.AgentResponse{ChannelID: "cli:session1", Content: "ok"})
	if !strings.Contains(logs.String(), "no router registered") {
		t.Errorf("expected a warning for the unregistered prefix, got log %q", logs.String())
	}
}
