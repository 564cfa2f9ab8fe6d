package plans

import "context"

// Store persists plans.
type Store interface {
	Get(ctx context.Context, id string) (*Plan, error)
	// List returns every plan ordered by sort order, then name.
	List(ctx context.Context) ([]*Plan, error)
	// ApplyBatch deletes deleteIDs and then upserts plans, all or nothing.
	// A name clash with a surviving plan returns ErrNameTaken.
	ApplyBatch(ctx context.Context, deleteIDs []string, plans []*Plan) error
}
