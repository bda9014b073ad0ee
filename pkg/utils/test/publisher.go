package testutils

import (
	"context"

	"github.com/mnemolabs/mnemo/pkg/eventstream"
)

// MockPublisher records published events for assertions.
type MockPublisher struct {
	Events []eventstream.Event

	// Err causes every Publish call to fail.
	Err error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (p *MockPublisher) Publish(_ context.Context, event eventstream.Event) error {
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, event)
	return nil
}

func (p *MockPublisher) Close() error {
	return nil
}

// OfType returns the recorded events of one event type, in order.
func (p *MockPublisher) OfType(eventType string) []eventstream.Event {
	var out []eventstream.Event
	for _, e := range p.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
