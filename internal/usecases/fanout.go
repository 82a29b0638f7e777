package usecases

import (
	"context"
	"fmt"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

// FanoutFilter binds realtime viewers to the part of the inbox they may
// watch. The scope is resolved once, when the subscription opens.
type FanoutFilter struct {
	profiles interfaces.ProfileRepository
}

func NewFanoutFilter(profiles interfaces.ProfileRepository) *FanoutFilter {
	return &FanoutFilter{profiles: profiles}
}

// ScopeFor looks up the viewer's profile. Viewers without a profile get
// no scope at all.
func (f *FanoutFilter) ScopeFor(ctx context.Context, userID string) (entities.Scope, error) {
	p, err := f.profiles.GetProfile(ctx, userID)
	if err != nil {
		return entities.Scope{}, fmt.Errorf("resolve scope for %s: %w", userID, err)
	}
	return ScopeFromProfile(p), nil
}

func ScopeFromProfile(p *entities.Profile) entities.Scope {
	s := entities.Scope{UserID: p.UserID}
	if p.TenantID != nil {
		id := *p.TenantID
		s.TenantID = &id
	}
	return s
}

// Filter keeps the events scope allows, in their original order.
func Filter(scope entities.Scope, events []entities.Event) []entities.Event {
	out := events[:0:0]
	for _, evt := range events {
		if scope.Allows(evt) {
			out = append(out, evt)
		}
	}
	return out
}
