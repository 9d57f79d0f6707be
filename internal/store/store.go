package store

import (
	"sync"

	"civicflow/internal/domain"
)

// Store is the authoritative in-memory issue collection. Issues are kept most
// recent first. Every write is validated; a rejected write leaves the store
// untouched.
type Store struct {
	mu     sync.RWMutex
	issues []domain.Issue
}

func New() *Store {
	return &Store{}
}

// All returns a deep copy of every issue.
func (s *Store) All() []domain.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Issue, len(s.issues))
	for i, issue := range s.issues {
		out[i] = issue.Clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.issues)
}

func (s *Store) Get(id string) (domain.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.Issue{}, &domain.NotFoundError{Kind: "issue", ID: id}
	}
	return s.issues[idx].Clone(), nil
}

// Add inserts a new issue at the front of the collection.
func (s *Store) Add(issue domain.Issue) error {
	if err := Validate(issue); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(issue.ID) >= 0 {
		return &domain.ConflictError{IssueID: issue.ID, Reason: "issue id already exists"}
	}
	s.issues = append([]domain.Issue{issue.Clone()}, s.issues...)
	return nil
}

// Commit replaces the stored issue that has the same id.
func (s *Store) Commit(issue domain.Issue) error {
	if err := Validate(issue); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(issue.ID)
	if idx < 0 {
		return &domain.NotFoundError{Kind: "issue", ID: issue.ID}
	}
	s.issues[idx] = issue.Clone()
	return nil
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return &domain.NotFoundError{Kind: "issue", ID: id}
	}
	s.issues = append(s.issues[:idx:idx], s.issues[idx+1:]...)
	return nil
}

// Replace swaps the whole collection. Either every issue is valid and the
// swap happens, or nothing changes.
func (s *Store) Replace(issues []domain.Issue) error {
	seen := make(map[string]struct{}, len(issues))
	next := make([]domain.Issue, len(issues))
	for i, issue := range issues {
		if err := Validate(issue); err != nil {
			return err
		}
		if _, dup := seen[issue.ID]; dup {
			return &domain.InvariantError{IssueID: issue.ID, Rule: "duplicate issue id in snapshot"}
		}
		seen[issue.ID] = struct{}{}
		next[i] = issue.Clone()
	}
	s.mu.Lock()
	s.issues = next
	s.mu.Unlock()
	return nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.issues {
		if s.issues[i].ID == id {
			return i
		}
	}
	return -1
}
