package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "idempotencyKeys"

// ClientProvider yields the shared Firestore client.
type ClientProvider interface {
	Client(ctx context.Context) (*firestore.Client, error)
}

// FirestoreStore keeps records as documents named by the hashed scoped key.
type FirestoreStore struct {
	clients    ClientProvider
	collection string
}

// NewFirestoreStore constructs a FirestoreStore. An empty collection uses "idempotencyKeys".
func NewFirestoreStore(clients ClientProvider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{clients: clients, collection: collection}
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.Client, *firestore.DocumentRef, error) {
	client, err := s.clients.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Collection(s.collection).Doc(documentID(key)), nil
}

// Reserve implements Store. Create fails with AlreadyExists for a held key,
// and an expired holder is deleted under an update-time precondition before
// the key is taken again.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	_, ref, err := s.doc(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	record := pendingRecord(key, fingerprint, now.UTC(), normaliseTTL(ttl))

	for attempt := 0; attempt < 2; attempt++ {
		_, err = ref.Create(ctx, toFirestoreRecord(record))
		if err == nil {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}
		if status.Code(err) != codes.AlreadyExists {
			return Reservation{}, err
		}

		snap, err := ref.Get(ctx)
		if status.Code(err) == codes.NotFound {
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		var existing firestoreRecord
		if err := snap.DataTo(&existing); err != nil {
			return Reservation{}, err
		}
		current := existing.toRecord()
		if !current.expired(record.CreatedAt) {
			return current.reservation(fingerprint)
		}
		if _, err := ref.Delete(ctx, firestore.LastUpdateTime(snap.UpdateTime)); err != nil && status.Code(err) != codes.FailedPrecondition {
			return Reservation{}, err
		}
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

// SaveResponse implements Store.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	client, ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	ttl = normaliseTTL(ttl)
	return client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var existing Record
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var stored firestoreRecord
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			existing = stored.toRecord()
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}
		return tx.Set(ref, toFirestoreRecord(completedRecord(existing, key, fingerprint, resp, now.UTC(), ttl)))
	})
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	_, ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	if err != nil {
		return err
	}
	var stored firestoreRecord
	if err := snap.DataTo(&stored); err != nil {
		return err
	}
	if stored.Fingerprint != fingerprint {
		return nil
	}
	_, err = ref.Delete(ctx, firestore.LastUpdateTime(snap.UpdateTime))
	if code := status.Code(err); code == codes.NotFound || code == codes.FailedPrecondition {
		return nil
	}
	return err
}

// CleanupExpired deletes up to limit expired documents in one batch.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	client, err := s.clients.Client(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 100
	}
	docs, err := client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		OrderBy("expiresAt", firestore.Asc).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	bulk := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := bulk.Delete(doc.Ref)
		if err != nil {
			bulk.End()
			return 0, err
		}
		jobs = append(jobs, job)
	}
	bulk.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			removed++
		}
	}
	return removed, nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func toFirestoreRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
