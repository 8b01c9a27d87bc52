package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"userphone/internal/platform"
)

const (
	StatusConnecting  = "🔗 Connecting…"
	StatusConnected   = "☎️ Connected!"
	StatusEnded       = "📴 Ended."
	StatusEndedRemote = "📴 Call ended by other side."
	StatusCancelled   = "❌ Cancelled."
	PartnerHungUp     = "📴 Call ended by the other side."
)

func statusQueued(position int) string {
	return fmt.Sprintf("📞 Calling… you're **#%d** in line.", position)
}

// placeholder is one status message. It is reserved before its send completes,
// so a status rendered in between is kept in pending and applied afterwards.
type placeholder struct {
	id      string
	sent    bool
	pending string
}

// placeholderBoard tracks the one status message per endpoint that is edited
// in place while a call is being set up. reserve and take are cheap and are
// called under the call service lock; network I/O happens after it is released.
type placeholderBoard struct {
	platform platform.Platform
	log      *slog.Logger

	mu      sync.Mutex
	handles map[string]*placeholder
}

func newPlaceholderBoard(p platform.Platform, log *slog.Logger) *placeholderBoard {
	return &placeholderBoard{platform: p, log: log, handles: make(map[string]*placeholder)}
}

// reserve registers a placeholder for endpoint, replacing any previous one.
func (b *placeholderBoard) reserve(endpoint string) *placeholder {
	p := &placeholder{}
	b.mu.Lock()
	b.handles[endpoint] = p
	b.mu.Unlock()
	return p
}

// take removes and returns the endpoint's placeholder, or nil.
func (b *placeholderBoard) take(endpoint string) *placeholder {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.handles[endpoint]
	delete(b.handles, endpoint)
	return p
}

// post sends the reserved placeholder, then applies any status rendered while
// the send was in flight.
func (b *placeholderBoard) post(ctx context.Context, endpoint string, p *placeholder, text string) {
	id, err := b.platform.Send(ctx, endpoint, text, nil)

	b.mu.Lock()
	p.sent = true
	if err == nil {
		p.id = id
	} else if b.handles[endpoint] == p {
		delete(b.handles, endpoint)
	}
	pending := p.pending
	b.mu.Unlock()

	if err != nil {
		b.log.Warn("placeholder send failed", "endpoint", endpoint, "error", err)
		return
	}
	if pending != "" {
		b.editNow(ctx, endpoint, id, pending)
	}
}

// edit renders text on p. Before p is sent the text is deferred to post.
func (b *placeholderBoard) edit(ctx context.Context, endpoint string, p *placeholder, text string) {
	if p == nil {
		return
	}

	b.mu.Lock()
	if !p.sent {
		p.pending = text
		b.mu.Unlock()
		return
	}
	id := p.id
	b.mu.Unlock()

	if id != "" {
		b.editNow(ctx, endpoint, id, text)
	}
}

func (b *placeholderBoard) editNow(ctx context.Context, endpoint, id, text string) {
	if err := b.platform.Edit(ctx, endpoint, id, text); err != nil {
		b.log.Warn("placeholder edit failed", "endpoint", endpoint, "message_id", id, "error", err)
	}
}

func (b *placeholderBoard) handle(endpoint string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.handles[endpoint]
	if !ok || !p.sent {
		return "", false
	}
	return p.id, true
}
