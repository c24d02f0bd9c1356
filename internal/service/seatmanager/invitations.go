package seatmanager

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/techmajster/time8-product-sub008/internal/model"
)

// invitationQueue holds invitations waiting for their seat change to be
// confirmed. Entries expire; they are never dispatched from here.
type invitationQueue struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func newInvitationQueue(ttl time.Duration) *invitationQueue {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &invitationQueue{cache: cache.New(ttl, 2*ttl)}
}

func (q *invitationQueue) put(correlationID string, invites []model.QueuedInvitation) {
	if len(invites) == 0 || correlationID == "" {
		return
	}
	stored := make([]model.QueuedInvitation, len(invites))
	copy(stored, invites)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cache.SetDefault(correlationID, stored)
}

// take returns and forgets the invitations queued under correlationID.
func (q *invitationQueue) take(correlationID string) ([]model.QueuedInvitation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.cache.Get(correlationID)
	if !ok {
		return nil, false
	}
	q.cache.Delete(correlationID)
	return v.([]model.QueuedInvitation), true
}
