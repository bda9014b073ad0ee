// Package nop provides a no-op eventstream publisher for tests and disabled mode.
package nop

import (
	"context"

	"github.com/mnemolabs/mnemo/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish validates input and otherwise does nothing.
func (p *Publisher) Publish(_ context.Context, event eventstream.Event) error {
	if event.EventType == "" {
		return eventstream.ErrMissingEventType
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
