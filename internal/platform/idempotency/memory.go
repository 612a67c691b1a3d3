package idempotency

import (
	"context"
	"sync"
	"time"
)

const memorySweepEvery = 128

// MemoryStore keeps records in process. Expired records are swept opportunistically while
// reserving, so a long running instance does not grow without bound.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	reserves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reserves++
	if s.reserves%memorySweepEvery == 0 {
		s.sweepLocked(now)
	}

	if record, ok := s.records[id]; ok && !record.expired(now) {
		return resolveExisting(record, fingerprint)
	}
	record := pendingRecord(key, fingerprint, now, ttl)
	s.records[id] = record
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint}
	}
	s.records[id] = completedRecord(record, resp, now, ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, documentID(key))
	return nil
}

// Len reports the number of live and not yet swept records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for id, record := range s.records {
		if record.expired(now) {
			delete(s.records, id)
		}
	}
}
