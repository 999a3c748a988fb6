package events

import (
	"context"
	"errors"

	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/ports"
)

// Fanout publishes to every sink and joins their errors.
type Fanout []ports.EventSink

// Publish delivers events to each sink in order. A failing sink does not stop
// the others.
func (f Fanout) Publish(ctx context.Context, events ...domain.Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
