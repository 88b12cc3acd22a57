package main

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"nfcescan/pkg/nfce"
)

// pendingReceipt is an extracted receipt waiting for the user to review and
// confirm it. Nothing is written to the database until confirmation.
type pendingReceipt struct {
	ID        string              `json:"id"`
	Target    string              `json:"target"`
	CreatedAt time.Time           `json:"created_at"`
	Receipt   *nfce.ReceiptRecord `json:"receipt"`
}

// pendingStore keeps reviews in memory; they do not survive a restart.
type pendingStore struct {
	mu    sync.RWMutex
	items map[string]pendingReceipt
	ttl   time.Duration
	now   func() time.Time
}

func newPendingStore(ttl time.Duration) *pendingStore {
	return &pendingStore{items: make(map[string]pendingReceipt), ttl: ttl, now: time.Now}
}

func (s *pendingStore) add(target string, rec *nfce.ReceiptRecord) pendingReceipt {
	p := pendingReceipt{ID: uuid.NewString(), Target: target, CreatedAt: s.now(), Receipt: rec.Clone()}
	s.mu.Lock()
	s.pruneLocked()
	s.items[p.ID] = p
	s.mu.Unlock()
	return copyPending(p)
}

func (s *pendingStore) get(id string) (pendingReceipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok || s.expired(p) {
		return pendingReceipt{}, false
	}
	return copyPending(p), true
}

// update applies fn to a copy of the entry and stores the result if fn succeeds.
func (s *pendingStore) update(id string, fn func(rec *nfce.ReceiptRecord) error) (pendingReceipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok || s.expired(p) {
		return pendingReceipt{}, false, nil
	}
	rec := p.Receipt.Clone()
	if err := fn(rec); err != nil {
		return pendingReceipt{}, true, err
	}
	p.Receipt = rec
	s.items[id] = p
	return copyPending(p), true, nil
}

func (s *pendingStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	delete(s.items, id)
	return ok
}

func (s *pendingStore) expired(p pendingReceipt) bool {
	return s.ttl > 0 && s.now().Sub(p.CreatedAt) > s.ttl
}

func (s *pendingStore) pruneLocked() {
	for id, p := range s.items {
		if s.expired(p) {
			delete(s.items, id)
		}
	}
}

func copyPending(p pendingReceipt) pendingReceipt {
	p.Receipt = p.Receipt.Clone()
	return p
}
