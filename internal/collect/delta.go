package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ashita-ai/hakken/internal/model"
)

// AssetStore is the snapshot side of storage used for change detection.
// *storage.DB satisfies it.
type AssetStore interface {
	GetLatestSnapshot(ctx context.Context, sourceType, externalID string) (*model.SourceAsset, error)
	SaveAsset(ctx context.Context, sourceType, externalID string, payload map[string]any) (model.SourceAsset, bool, []string, error)
}

// Delta partitions a fetched batch by external id: records never seen
// before, records that changed significantly, and the rest. It is what
// makes daily runs idempotent: only new and changed records become signals
// again.
type Delta struct {
	New       []string
	Changed   []string
	Unchanged []string
}

// ChangeFunc decides whether a payload changed enough to matter, given the
// previous snapshot payload. Nil means any stored field diff counts.
type ChangeFunc func(prev, current map[string]any) bool

// ComputeDelta classifies each payload against its latest stored snapshot
// and stores the current one. payloads is keyed by external id; the
// returned id slices are sorted.
func ComputeDelta(ctx context.Context, store AssetStore, sourceType string, payloads map[string]map[string]any, changed ChangeFunc) (Delta, error) {
	ids := make([]string, 0, len(payloads))
	for id := range payloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var delta Delta
	for _, id := range ids {
		payload := payloads[id]
		previous, err := store.GetLatestSnapshot(ctx, sourceType, id)
		if err != nil {
			return Delta{}, fmt.Errorf("collect: load %s snapshot for %s: %w", sourceType, id, err)
		}

		switch {
		case previous == nil:
			delta.New = append(delta.New, id)
		case changed == nil:
			_, _, diff, err := store.SaveAsset(ctx, sourceType, id, payload)
			if err != nil {
				return Delta{}, fmt.Errorf("collect: snapshot %s %s: %w", sourceType, id, err)
			}
			if len(diff) > 0 {
				delta.Changed = append(delta.Changed, id)
			} else {
				delta.Unchanged = append(delta.Unchanged, id)
			}
			continue
		case changed(previous.RawPayload, payload):
			delta.Changed = append(delta.Changed, id)
		default:
			delta.Unchanged = append(delta.Unchanged, id)
		}

		if _, _, _, err := store.SaveAsset(ctx, sourceType, id, payload); err != nil {
			return Delta{}, fmt.Errorf("collect: snapshot %s %s: %w", sourceType, id, err)
		}
	}
	return delta, nil
}

// StarChange returns a ChangeFunc that fires when stargazers_count grew by
// at least threshold as a fraction of the previous count. A record going
// from zero stars to any stars counts as full growth.
func StarChange(threshold float64) ChangeFunc {
	return func(prev, current map[string]any) bool {
		prevStars := numField(prev, "stargazers_count")
		curStars := numField(current, "stargazers_count")
		rate := 1.0
		switch {
		case prevStars > 0:
			rate = (curStars - prevStars) / prevStars
		case curStars <= 0:
			rate = 0
		}
		return rate >= threshold
	}
}

// numField reads a numeric payload field, tolerating the types JSON
// round-trips produce.
func numField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}
