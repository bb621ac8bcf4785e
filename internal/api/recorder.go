package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luma/calypso/storage"
)

const eventsKey = "events"

// LastEvent is the status entry kept for one event kind.
type LastEvent struct {
	Args []string  `json:"args"`
	Raw  string    `json:"raw"`
	At   time.Time `json:"at"`
}

// RecordEvents stores the last event of every kind under "events.<kind>"
// until ctx is done or the device stops delivering events.
func RecordEvents(ctx context.Context, dev Device, store storage.Store, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	sub, err := dev.Subscribe()
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}

			key := eventsKey + "." + ev.Kind.String()
			entry := LastEvent{Args: ev.Args, Raw: ev.Raw, At: time.Now().UTC()}
			if entry.Args == nil {
				entry.Args = []string{}
			}

			if err := store.Set(ctx, key, entry); err != nil {
				log.Warn("Failed to record event", zap.Stringer("kind", ev.Kind), zap.Error(err))
			}
		}
	}
}
