package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/marketcart/checkout-api/internal/platform/firestore"
)

const (
	defaultCollection  = "checkoutIdempotency"
	defaultMaxAttempts = 5
)

type FirestoreOption func(*FirestoreStore)

func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// FirestoreStore shares reservations across instances. Each key is one document whose id is the
// hash of the scoped key, so reservations are serialised by Firestore transactions.
type FirestoreStore struct {
	provider    *pfirestore.Provider
	collection  string
	maxAttempts int
	records     *pfirestore.BaseRepository[firestoreRecord]
}

func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	store := &FirestoreStore{
		provider:    provider,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	store.records = pfirestore.NewBaseRepository[firestoreRecord](provider, store.collection, nil)
	return store, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	ref, err := s.records.DocumentRef(ctx, documentID(key))
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = Reservation{}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var stored firestoreRecord
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			record := stored.toRecord()
			if !record.expired(now) {
				reservation, err := resolveExisting(record, fingerprint)
				if err != nil {
					return err
				}
				result = reservation
				return nil
			}
		case !pfirestore.IsNotFound(pfirestore.WrapError(s.collection+".reserve", err)):
			return err
		}

		record := pendingRecord(key, fingerprint, now, ttl)
		if err := tx.Set(ref, newFirestoreRecord(record)); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: record}
		return nil
	}, pfirestore.WithTxAttempts(s.maxAttempts))
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return Reservation{}, ErrFingerprintMismatch
		}
		return Reservation{}, pfirestore.WrapError(s.collection+".reserve", err)
	}
	return result, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	ref, err := s.records.DocumentRef(ctx, documentID(key))
	if err != nil {
		return err
	}

	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record := Record{Key: key, Fingerprint: fingerprint}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var stored firestoreRecord
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			if stored.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record = stored.toRecord()
		case !pfirestore.IsNotFound(pfirestore.WrapError(s.collection+".complete", err)):
			return err
		}
		return tx.Set(ref, newFirestoreRecord(completedRecord(record, resp, now, ttl)))
	}, pfirestore.WithTxAttempts(s.maxAttempts))
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return ErrFingerprintMismatch
		}
		return pfirestore.WrapError(s.collection+".complete", err)
	}
	return nil
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	err := s.records.Delete(ctx, documentID(key))
	if err != nil && !pfirestore.IsNotFound(err) {
		return err
	}
	return nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func newFirestoreRecord(record Record) firestoreRecord {
	return firestoreRecord{
		Key:             record.Key,
		Fingerprint:     record.Fingerprint,
		Status:          string(record.Status),
		ResponseStatus:  record.ResponseStatus,
		ResponseHeaders: record.ResponseHeaders,
		ResponseBody:    record.ResponseBody,
		CreatedAt:       record.CreatedAt,
		ExpiresAt:       record.ExpiresAt,
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
		CreatedAt:       r.CreatedAt.UTC(),
		ExpiresAt:       r.ExpiresAt.UTC(),
	}
}
