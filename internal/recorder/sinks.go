package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// JournalSink persists entries, closes and snapshots.
type JournalSink struct {
	store domain.JournalStore
}

// NewJournalSink wraps a journal store.
func NewJournalSink(store domain.JournalStore) *JournalSink {
	return &JournalSink{store: store}
}

func (j *JournalSink) Name() string { return "journal" }

func (j *JournalSink) Record(ctx context.Context, ev domain.Event) error {
	switch ev.Kind {
	case domain.EventEntry:
		if ev.Position != nil {
			return j.store.UpsertPosition(ctx, *ev.Position)
		}
	case domain.EventExit, domain.EventRedeem:
		if ev.Trade != nil {
			if err := j.store.RecordTrade(ctx, *ev.Trade); err != nil {
				return err
			}
			// Positions opened before the journal was attached are not stored.
			if err := j.store.DeletePosition(ctx, ev.Trade.TradeID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
	case domain.EventSnapshot:
		if ev.Snapshot != nil {
			return j.store.RecordSnapshot(ctx, *ev.Snapshot)
		}
	}
	return nil
}

// Bus channel and stream names.
const (
	EventsChannel = "polysniper:events"
	JournalStream = "polysniper:journal"
)

// BusSink publishes every event as JSON on the event bus and appends
// position changes to the durable stream.
type BusSink struct {
	bus domain.EventBus
}

// NewBusSink wraps an event bus.
func NewBusSink(bus domain.EventBus) *BusSink {
	return &BusSink{bus: bus}
}

func (b *BusSink) Name() string { return "bus" }

func (b *BusSink) Record(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("recorder: marshal event: %w", err)
	}
	if err := b.bus.Publish(ctx, EventsChannel, payload); err != nil {
		return err
	}
	switch ev.Kind {
	case domain.EventEntry, domain.EventExit, domain.EventRedeem:
		return b.bus.StreamAppend(ctx, JournalStream, payload)
	}
	return nil
}
