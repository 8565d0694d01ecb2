package catalog

import (
	"context"
	"encoding/json"
	"fmt"
)

// AssetRefs are the asset identifiers a stored laptop owns.
type AssetRefs struct {
	ImagePublicID    string
	GalleryPublicIDs []string
}

// IDs returns the non-empty identifiers, primary image first.
func (a *AssetRefs) IDs() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.GalleryPublicIDs)+1)
	if a.ImagePublicID != "" {
		out = append(out, a.ImagePublicID)
	}
	for _, id := range a.GalleryPublicIDs {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Store is the laptops record table.
type Store interface {
	// Upsert inserts rec or merges it into the row with the same id and
	// returns the resulting row.
	Upsert(ctx context.Context, rec Record) (json.RawMessage, error)
	// AssetRefs returns the asset ids of the laptop with the given id, or
	// nil if no such row exists.
	AssetRefs(ctx context.Context, id int64) (*AssetRefs, error)
	// Delete removes the laptop and returns the deleted rows as a JSON
	// array. Deleting a missing id is not an error.
	Delete(ctx context.Context, id int64) (json.RawMessage, error)
}

// UpstreamError reports a record table call that completed with a failure
// status.
type UpstreamError struct {
	Op     string
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, e.Detail)
}
