package store

import (
	"context"
	"encoding/json"
	"fmt"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// LoadEvents decodes every record of the events collection. Records that
// fail to decode are logged and skipped.
func LoadEvents(ctx context.Context, st Store) ([]model.Event, error) {
	recs, err := st.GetAll(ctx, CollectionEvents)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	out := make([]model.Event, 0, len(recs))
	for _, r := range recs {
		var ev model.Event
		if err := json.Unmarshal(r.Data, &ev); err != nil {
			appLog.Error("store: skipping undecodable event", err, "id", r.ID)
			continue
		}
		if ev.ID == "" {
			ev.ID = r.ID
		}
		out = append(out, ev)
	}
	return out, nil
}

// PutEvent writes ev, assigning a content-derived id when it has none.
// It returns the stored record.
func PutEvent(ctx context.Context, st Store, ev model.Event) (model.Event, error) {
	ev.EnsureID()
	data, err := json.Marshal(ev)
	if err != nil {
		return ev, err
	}
	if err := st.Put(ctx, CollectionEvents, Record{ID: ev.ID, Data: data}); err != nil {
		return ev, fmt.Errorf("put event %s: %w", ev.ID, err)
	}
	return ev, nil
}

// SoftDelete tombstones the event with id. Missing ids are ignored.
func SoftDelete(ctx context.Context, st Store, id string) error {
	events, err := LoadEvents(ctx, st)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.ID == id {
			ev.Deleted = true
			_, err := PutEvent(ctx, st, ev)
			return err
		}
	}
	return nil
}
