package query

import (
	"context"

	"github.com/kvsync/kvsync/internal/engine"
	"gorm.io/gorm"
)

// MatchSet is the full matched set a hot read observer yields.
type MatchSet map[engine.KeyRef][]engine.Version

// ReadObserver is the hot reactive observer: it yields the
// current matching set on subscription, then re-yields the full matching
// set on every committed change that touches the matched region. Unlike
// ChangeObserver it never exposes a delta, only the recomputed whole.
func ReadObserver(ctx context.Context, eng *engine.Engine, db *gorm.DB, filter Filter) (<-chan MatchSet, func()) {
	out := make(chan MatchSet, 1)
	events, unsubscribe := eng.Subscribe(ctx)

	emit := func() {
		matched, err := BulkRead(db, filter)
		if err != nil {
			return
		}
		select {
		case out <- matched:
		default:
			// Drop the stale pending snapshot and deliver the fresh one; a
			// hot observer's contract is "the current matched set", not a
			// queue of every intermediate state.
			select {
			case <-out:
			default:
			}
			select {
			case out <- matched:
			default:
			}
		}
	}

	go func() {
		defer close(out)
		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if matchesFilter(event, filter) {
					emit()
				}
			}
		}
	}()

	return out, unsubscribe
}

// ChangeObserver is the cold observer: a thin pass-through
// over the engine's own change feed, named for symmetry with ReadObserver
// at the query-surface level.
func ChangeObserver(ctx context.Context, eng *engine.Engine) (<-chan engine.ChangeEvent, func()) {
	return eng.Subscribe(ctx)
}

func matchesFilter(event engine.ChangeEvent, filter Filter) bool {
	if filter.Scope != nil && *filter.Scope != event.Scope {
		return false
	}
	if filter.Key != nil && *filter.Key != event.Key {
		return false
	}
	return true
}
