package profile

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"civicflow/internal/domain"
)

const historyLimit = 50

// Store holds the local user's profile. The core changes it only through
// Award.
type Store struct {
	mu      sync.RWMutex
	profile domain.UserProfile

	Now   func() time.Time
	NewID func() string
}

func New(actorID, fullName string) *Store {
	s := &Store{Now: time.Now, NewID: uuid.NewString}
	now := s.now()
	s.profile = domain.UserProfile{
		ActorID:   actorID,
		FullName:  fullName,
		History:   []domain.HistoryEntry{},
		Badges:    []domain.Badge{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Store) Get() domain.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.profile)
}

// Set overwrites the profile, e.g. with a persisted copy.
func (s *Store) Set(p domain.UserProfile) error {
	if p.ActorID == "" {
		return fmt.Errorf("profile actor id required")
	}
	if p.History == nil {
		p.History = []domain.HistoryEntry{}
	}
	if p.Badges == nil {
		p.Badges = []domain.Badge{}
	}
	s.mu.Lock()
	s.profile = clone(p)
	s.mu.Unlock()
	return nil
}

// Award credits a point award and returns the updated profile together with
// any badges it unlocked.
func (s *Store) Award(a domain.PointAward) (domain.UserProfile, []domain.Badge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ActorID != s.profile.ActorID {
		return domain.UserProfile{}, nil, fmt.Errorf("award for %s does not belong to profile %s", a.ActorID, s.profile.ActorID)
	}
	at := a.AwardedAt
	if at.IsZero() {
		at = s.now()
	}
	p := &s.profile
	p.Points += a.Points
	p.SolvedCount++
	entry := domain.HistoryEntry{ID: s.newID(), Action: a.Action, IssueID: a.IssueID, Points: a.Points, At: at}
	p.History = append([]domain.HistoryEntry{entry}, p.History...)
	if len(p.History) > historyLimit {
		p.History = p.History[:historyLimit]
	}
	unlocked := s.evaluateBadges(at)
	p.UpdatedAt = at
	return clone(*p), unlocked, nil
}

func (s *Store) evaluateBadges(at time.Time) []domain.Badge {
	have := make(map[string]struct{}, len(s.profile.Badges))
	for _, b := range s.profile.Badges {
		have[b.ID] = struct{}{}
	}
	var unlocked []domain.Badge
	for _, rule := range Rules() {
		if _, ok := have[rule.ID]; ok || !rule.earned(s.profile) {
			continue
		}
		b := domain.Badge{ID: rule.ID, Name: rule.Name, Tier: rule.Tier, AwardedAt: at}
		s.profile.Badges = append(s.profile.Badges, b)
		unlocked = append(unlocked, b)
	}
	return unlocked
}

func (s *Store) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func clone(p domain.UserProfile) domain.UserProfile {
	out := p
	out.History = append([]domain.HistoryEntry{}, p.History...)
	out.Badges = append([]domain.Badge{}, p.Badges...)
	return out
}
