package testsupport

import (
	"context"
	"sync"

	"github.com/goliatone/go-shop-cache/events"
)

// RecordingPublisher keeps every published envelope. Set Err to make
// Publish fail.
type RecordingPublisher struct {
	mu        sync.Mutex
	envelopes []events.Envelope
	Err       error
}

func (p *RecordingPublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

// Envelopes returns a copy of the published envelopes in order.
func (p *RecordingPublisher) Envelopes() []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Envelope(nil), p.envelopes...)
}

// Types returns the published event types in order.
func (p *RecordingPublisher) Types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.envelopes))
	for i, env := range p.envelopes {
		out[i] = env.Type
	}
	return out
}
