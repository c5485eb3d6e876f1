package teams

import (
	"context"
	"time"

	"github.com/newmeca/membership/app/models"
)

// MembershipFacts is the read-only view of a user's memberships the team gate needs.
// Returned memberships should have MembershipTypeConfig loaded.
type MembershipFacts interface {
	ActiveMemberships(ctx context.Context, userID string, now time.Time) ([]models.Membership, error)
}

// GrantsTeam reports whether an active membership entitles its holder to run a team:
// retail and manufacturer memberships, the legacy team category, a purchased team add-on,
// or a membership type flagged as including a team.
func GrantsTeam(m models.Membership) bool {
	switch m.Category {
	case models.CategoryRetail, models.CategoryManufacturer, models.CategoryTeam:
		return true
	}
	return m.HasTeamAddon || m.IncludesTeam()
}

func (s *Service) activeMemberships(ctx context.Context, userID string) ([]models.Membership, error) {
	now := s.now()
	ms, err := s.facts.ActiveMemberships(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	active := make([]models.Membership, 0, len(ms))
	for _, m := range ms {
		if m.IsActiveAt(now) {
			active = append(active, m)
		}
	}
	return active, nil
}

func (s *Service) hasActiveMembership(ctx context.Context, userID string) (bool, error) {
	ms, err := s.activeMemberships(ctx, userID)
	return len(ms) > 0, err
}

// teamGrantingMembership returns the first active membership that grants a team, or nil.
func (s *Service) teamGrantingMembership(ctx context.Context, userID string) (*models.Membership, error) {
	ms, err := s.activeMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range ms {
		if GrantsTeam(ms[i]) {
			return &ms[i], nil
		}
	}
	return nil, nil
}

// HasTeamMembership reports whether the user currently holds a membership that grants a team.
func (s *Service) HasTeamMembership(ctx context.Context, userID string) (bool, error) {
	m, err := s.teamGrantingMembership(ctx, userID)
	return m != nil, err
}
