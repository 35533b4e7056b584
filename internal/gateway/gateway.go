// Package gateway dispatches ChannelEvents from channel adapters to the
// Agent Runtime and routes the resulting AgentResponse back to the
// originating adapter (spec §2 data flow, §5).
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/openpista/openpista/pkg/models"
)

// Runtime is the subset of the Agent Runtime the gateway depends on.
type Runtime interface {
	Process(ctx context.Context, channelID, sessionID, userMessage, skillsContext string) (string, models.TokenUsage, error)
}

// ResponseRouter delivers an AgentResponse back to whichever channel
// adapter is holding the request open for resp.ChannelID.
type ResponseRouter interface {
	SendResponse(resp models.AgentResponse)
}

// Gateway owns the bounded ChannelEvent queue and the channel-prefix ->
// adapter routing table.
type Gateway struct {
	log     *slog.Logger
	runtime Runtime
	queue   chan models.ChannelEvent

	mu      sync.RWMutex
	routers map[string]ResponseRouter
}

// New constructs a Gateway backed by a bounded queue of size queueSize
// (spec.md §10 gateway.queue_size).
func New(runtime Runtime, queueSize int) *Gateway {
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Gateway{
		runtime: runtime,
		queue:   make(chan models.ChannelEvent, queueSize),
		routers: make(map[string]ResponseRouter),
	}
}

func (g *Gateway) SetLogger(log *slog.Logger) {
	g.log = log
}

func (g *Gateway) logger() *slog.Logger {
	if g.log != nil {
		return g.log
	}
	return slog.Default()
}

// RegisterRouter associates a channel_id prefix (e.g. "mobile") with the
// adapter responsible for delivering responses back to clients on that
// channel. The prefix is the segment of channel_id before its first ':'.
func (g *Gateway) RegisterRouter(prefix string, router ResponseRouter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routers[prefix] = router
}

// Enqueue adds ev to the dispatch queue. It returns false without
// blocking if the queue is full; callers are expected to report that to
// their client as "agent unavailable" rather than stall the transport.
func (g *Gateway) Enqueue(ev models.ChannelEvent) bool {
	select {
	case g.queue <- ev:
		return true
	default:
		g.logger().Warn("gateway: queue full, dropping event", "channel_id", ev.ChannelID)
		return false
	}
}

// Run drains the queue until ctx is cancelled, dispatching each event to
// the Agent Runtime in its own goroutine so a slow request never blocks
// the next event from being picked up.
func (g *Gateway) Run(ctx context.Context, skillsContext string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-g.queue:
			go g.dispatch(ctx, ev, skillsContext)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, ev models.ChannelEvent, skillsContext string) {
	content, _, err := g.runtime.Process(ctx, ev.ChannelID, ev.SessionID, ev.UserMessage, skillsContext)

	resp := models.AgentResponse{ChannelID: ev.ChannelID, SessionID: ev.SessionID, Content: content}
	if err != nil {
		g.logger().Warn("gateway: agent run failed", "channel_id", ev.ChannelID, "error", err)
		resp.Content = err.Error()
		resp.IsError = true
	}

	g.route(resp)
}

// route matches resp back to its originating adapter by the channel_id's
// prefix segment (the part before the first ':').
func (g *Gateway) route(resp models.AgentResponse) {
	prefix := resp.ChannelID
	if idx := strings.Index(resp.ChannelID, ":"); idx >= 0 {
		prefix = resp.ChannelID[:idx]
	}

	g.mu.RLock()
	router, ok := g.routers[prefix]
	g.mu.RUnlock()

	if !ok {
		g.logger().Warn("gateway: no router registered for channel prefix", "prefix", prefix, "channel_id", resp.ChannelID)
		return
	}
	router.SendResponse(resp)
}
