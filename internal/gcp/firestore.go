package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID, database string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	if database == "" {
		database = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// RecordStore keeps one metadata document per document key, addressed by key.ID().
type RecordStore struct {
	client     *firestore.Client
	collection string
}

// NewRecordStore creates a record store over collection.
func NewRecordStore(client *firestore.Client, collection string) *RecordStore {
	return &RecordStore{client: client, collection: collection}
}

func (s *RecordStore) doc(key models.DocumentKey) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key.ID())
}

// GetRecord reads the record for key.
func (s *RecordStore) GetRecord(ctx context.Context, key models.DocumentKey) (*models.MetadataRecord, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", key, err)
	}
	var rec models.MetadataRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", key, err)
	}
	return &rec, nil
}

// UpsertRecord writes rec in a transaction that first checks the persisted status.
func (s *RecordStore) UpsertRecord(ctx context.Context, key models.DocumentKey, expected models.Status, rec *models.MetadataRecord) error {
	ref := s.doc(key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		current := models.StatusNew
		var createdAt time.Time
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return fmt.Errorf("failed to read record %s in transaction: %w", key, err)
		default:
			var prior models.MetadataRecord
			if err := snap.DataTo(&prior); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", key, err)
			}
			current = prior.Status
			createdAt = prior.CreatedAt
		}
		if current != expected {
			return fmt.Errorf("%w: %s is %s, expected %s", models.ErrStateConflict, key, current, expected)
		}

		next := *rec
		next.Key = key
		if !createdAt.IsZero() {
			next.CreatedAt = createdAt
		}
		return tx.Set(ref, &next)
	})
}

// ListByStatus returns up to limit records in st. A limit of zero lists all of them.
func (s *RecordStore) ListByStatus(ctx context.Context, st models.Status, limit int) ([]*models.MetadataRecord, error) {
	q := s.client.Collection(s.collection).Where("status", "==", string(st))
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*models.MetadataRecord
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s records: %w", st, err)
		}
		var rec models.MetadataRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

type leaseDoc struct {
	Holder    string    `firestore:"holder"`
	Document  string    `firestore:"documentKey"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

// LeaseStore grants extraction leases through transactional documents in a
// collection of their own, so the metadata record never holds an in-progress state.
type LeaseStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// NewLeaseStore creates a lease store over collection.
func NewLeaseStore(client *firestore.Client, collection string) *LeaseStore {
	return &LeaseStore{client: client, collection: collection, now: time.Now}
}

// Acquire takes the lease for key unless another holder has an unexpired one.
// Re-acquiring an own lease extends it.
func (s *LeaseStore) Acquire(ctx context.Context, key models.DocumentKey, holder string, ttl time.Duration) error {
	ref := s.client.Collection(s.collection).Doc(key.ID())
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read lease %s: %w", key, err)
		}
		now := s.now()
		if err == nil {
			var cur leaseDoc
			if err := snap.DataTo(&cur); err != nil {
				return fmt.Errorf("failed to decode lease %s: %w", key, err)
			}
			if cur.Holder != holder && now.Before(cur.ExpiresAt) {
				return fmt.Errorf("%w: %s held by %s until %s", models.ErrLeaseHeld, key, cur.Holder, cur.ExpiresAt.Format(time.RFC3339))
			}
		}
		return tx.Set(ref, leaseDoc{Holder: holder, Document: key.String(), ExpiresAt: now.Add(ttl)})
	})
}

// Release deletes the lease if holder still owns it.
func (s *LeaseStore) Release(ctx context.Context, key models.DocumentKey, holder string) error {
	ref := s.client.Collection(s.collection).Doc(key.ID())
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read lease %s: %w", key, err)
		}
		var cur leaseDoc
		if err := snap.DataTo(&cur); err != nil {
			return fmt.Errorf("failed to decode lease %s: %w", key, err)
		}
		if cur.Holder != holder {
			return nil
		}
		return tx.Delete(ref)
	})
}
