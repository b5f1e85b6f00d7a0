package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

type ToFirestoreFunc[T any] func(*T) map[string]interface{}
type FromFirestoreFunc[T any] func(map[string]interface{}) *T

type Collection[T any] struct {
	Ref           *firestore.CollectionRef
	ToFirestore   ToFirestoreFunc[T]
	FromFirestore FromFirestoreFunc[T]
}

func (c *Collection[T]) Doc(id string) *DocumentRef[T] {
	return &DocumentRef[T]{
		Ref:           c.Ref.Doc(id),
		ToFirestore:   c.ToFirestore,
		FromFirestore: c.FromFirestore,
	}
}

// GetAll reads the named documents in one round trip. Missing documents
// are absent from the result.
func (c *Collection[T]) GetAll(ctx context.Context, fs *firestore.Client, ids []string) (map[string]*T, error) {
	if len(ids) == 0 {
		return map[string]*T{}, nil
	}
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = c.Ref.Doc(id)
	}
	snaps, err := fs.GetAll(ctx, refs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*T, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		out[snap.Ref.ID] = c.FromFirestore(snap.Data())
	}
	return out, nil
}

// Documents runs q and converts every result.
func (c *Collection[T]) Documents(ctx context.Context, q firestore.Query) ([]*T, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*T
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c.FromFirestore(snap.Data()))
	}
	return out, nil
}

// Snapshots runs q and returns the raw snapshots, for callers that need
// document references as well as data.
func (c *Collection[T]) Snapshots(ctx context.Context, q firestore.Query) ([]*firestore.DocumentSnapshot, error) {
	return q.Documents(ctx).GetAll()
}

type DocumentRef[T any] struct {
	Ref           *firestore.DocumentRef
	ToFirestore   ToFirestoreFunc[T]
	FromFirestore FromFirestoreFunc[T]
}

func (d *DocumentRef[T]) ID() string {
	return d.Ref.ID
}

func (d *DocumentRef[T]) Get(ctx context.Context) (*T, error) {
	snap, err := d.Ref.Get(ctx)
	if err != nil {
		return nil, err
	}
	return d.FromFirestore(snap.Data()), nil
}

func (d *DocumentRef[T]) Set(ctx context.Context, data *T) error {
	m := d.ToFirestore(data)
	_, err := d.Ref.Set(ctx, m, firestore.MergeAll)
	return err
}

// Create writes data only if the document does not exist yet. The error
// carries codes.AlreadyExists otherwise.
func (d *DocumentRef[T]) Create(ctx context.Context, data *T) error {
	_, err := d.Ref.Create(ctx, d.ToFirestore(data))
	return err
}

func (d *DocumentRef[T]) Update(ctx context.Context, updates []firestore.Update) error {
	_, err := d.Ref.Update(ctx, updates)
	return err
}

func (d *DocumentRef[T]) Delete(ctx context.Context) error {
	_, err := d.Ref.Delete(ctx)
	return err
}
