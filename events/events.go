// Package events defines the market's outbound event stream: a flat,
// transport-agnostic envelope plus the emitter contract settlement code
// publishes through.
package events

import "context"

// Event is the broadcastable form of a state change: a type tag plus flat
// string attributes, cheap to serialise for any downstream transport.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Emitter broadcasts events to downstream subscribers (indexers, feeds,
// notification fanout). Emit must not fail the calling operation: sinks
// handle their own delivery problems.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// NoopEmitter satisfies Emitter while discarding every event. Components
// default to it so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(context.Context, Event) {}
