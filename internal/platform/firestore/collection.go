package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Collection binds a typed document shape to a collection name.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection returns a typed handle for the named collection.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Ref returns the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("ref"), errors.New("firestore: document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get loads and decodes a document.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return out, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return out, WrapError(c.op("get"), err)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, fmt.Errorf("firestore: decode %s/%s: %w", c.name, id, err)
	}
	return out, nil
}

// TxGet loads and decodes a document inside a transaction.
func (c *Collection[T]) TxGet(ctx context.Context, tx *firestore.Transaction, id string) (T, *firestore.DocumentRef, error) {
	var out T
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return out, nil, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		return out, ref, WrapError(c.op("txget"), err)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, ref, fmt.Errorf("firestore: decode %s/%s: %w", c.name, id, err)
	}
	return out, ref, nil
}

// Create writes a new document and fails when it already exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, value); err != nil {
		return WrapError(c.op("create"), err)
	}
	return nil
}

// Query runs build against the collection and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]T, error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		var doc T
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

// TxQueryFirst runs a query inside the transaction and returns the first match.
func (c *Collection[T]) TxQueryFirst(ctx context.Context, tx *firestore.Transaction, build func(firestore.Query) firestore.Query) (T, *firestore.DocumentRef, bool, error) {
	var out T
	coll, err := c.ref(ctx)
	if err != nil {
		return out, nil, false, err
	}
	iter := tx.Documents(build(coll.Query).Limit(1))
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return out, nil, false, nil
	}
	if err != nil {
		return out, nil, false, WrapError(c.op("txquery"), err)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, nil, false, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
	}
	return out, snap.Ref, true, nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError("collection", errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError("collection", errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
