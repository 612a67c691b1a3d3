package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document is a decoded snapshot plus its identity and update time.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// Decoder hydrates T from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// BaseRepository wraps one collection with typed reads and writes.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	decode     Decoder[T]
}

// NewBaseRepository binds a repository to collection. A nil decoder uses DataTo.
func NewBaseRepository[T any](provider *Provider, collection string, decode Decoder[T]) *BaseRepository[T] {
	if decode == nil {
		decode = func(snap *firestore.DocumentSnapshot) (T, error) {
			var out T
			err := snap.DataTo(&out)
			return out, err
		}
	}
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		decode:     decode,
	}
}

// GetMany fetches ids in one round trip. Missing documents are omitted from the result map.
func (r *BaseRepository[T]) GetMany(ctx context.Context, ids []string) (map[string]Document[T], error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, coll.Doc(id))
	}
	out := make(map[string]Document[T], len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, WrapError(r.op("get_many"), err)
	}
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := r.decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = doc
	}
	return out, nil
}

// Set upserts value under id.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, value); err != nil {
		return WrapError(r.op("set"), err)
	}
	return nil
}

// Delete removes id; deleting a missing document is not an error.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		wrapped := WrapError(r.op("delete"), err)
		if IsNotFound(wrapped) {
			return nil
		}
		return wrapped
	}
	return nil
}

// DocumentRef resolves id inside the collection, for use inside transactions.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) decodeSnapshot(snap *firestore.DocumentSnapshot) (Document[T], error) {
	data, err := r.decode(snap)
	if err != nil {
		return Document[T]{}, fmt.Errorf("%s: decode %s: %w", r.op("decode"), snap.Ref.ID, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, UpdateTime: snap.UpdateTime}, nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("firestore: repository has no provider")
	}
	if r.collection == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) op(action string) string {
	return r.collection + "." + action
}
