package job

import (
	"context"
	"time"
)

// StreamEvent is one event on a followed job's output feed: either a single
// output line, or the final marker with Done=true carrying the terminal
// status.
type StreamEvent struct {
	Line   string
	Done   bool
	Status Status
}

// Follow returns a channel of the job's output lines from the beginning,
// followed by exactly one terminal marker, after which the channel closes.
// Each call gets an independent cursor, so concurrent subscribers (including
// late joiners) all see the complete sequence in emission order.
//
// The feed polls the registry at a bounded interval rather than being pushed
// to by the runner, which keeps the runner decoupled from however many
// subscribers exist. If the job is purged mid-stream the channel closes
// without a marker. Cancelling ctx stops the feed.
func (s *Service) Follow(ctx context.Context, id string) (<-chan StreamEvent, error) {
	if _, ok := s.reg.Get(id); !ok {
		return nil, ErrNotFound
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		cursor := 0
		for {
			// Lines and status come from one atomic read: once the status is
			// terminal the output is frozen, so emitting these lines and then
			// the marker yields the complete sequence.
			lines, next, status, ok := s.reg.OutputSince(id, cursor)
			if !ok {
				return
			}
			cursor = next
			for _, line := range lines {
				select {
				case events <- StreamEvent{Line: line}:
				case <-ctx.Done():
					return
				}
			}
			if status.Terminal() {
				select {
				case events <- StreamEvent{Done: true, Status: status}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
