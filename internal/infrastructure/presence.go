package infrastructure

import (
	"sort"
	"sync"
	"time"

	"talk2chat/internal/entities"
)

// PresenceTracker keeps the ephemeral online/typing state of connected
// viewers. Nothing here is persisted.
type PresenceTracker struct {
	mu      sync.RWMutex
	entries map[string]entities.PresenceEntry
	now     func() time.Time
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		entries: make(map[string]entities.PresenceEntry),
		now:     time.Now,
	}
}

// Update stores entry, stamping UpdatedAt, and returns the stored copy.
// An empty status keeps the previous one (or online for a new viewer).
func (p *PresenceTracker) Update(entry entities.PresenceEntry) entities.PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry.Status == "" {
		entry.Status = entities.PresenceOnline
		if prev, ok := p.entries[entry.UserID]; ok {
			entry.Status = prev.Status
		}
	}
	entry.UpdatedAt = p.now()
	p.entries[entry.UserID] = entry
	return entry
}

// Remove drops userID and returns its last entry marked offline.
func (p *PresenceTracker) Remove(userID string) (entities.PresenceEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[userID]
	if !ok {
		return entities.PresenceEntry{}, false
	}
	delete(p.entries, userID)
	entry.Status = entities.PresenceOffline
	entry.Typing = ""
	entry.UpdatedAt = p.now()
	return entry, true
}

func (p *PresenceTracker) Get(userID string) (entities.PresenceEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.entries[userID]
	return entry, ok
}

// List returns the viewers visible to scope, ordered by user id.
func (p *PresenceTracker) List(scope entities.Scope) []entities.PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]entities.PresenceEntry, 0, len(p.entries))
	for _, e := range p.entries {
		if entities.SameTenant(scope.TenantID, e.TenantID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (p *PresenceTracker) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
