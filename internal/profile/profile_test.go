package profile_test

import (
	"testing"
	"time"

	"civicflow/internal/domain"
	"civicflow/internal/profile"
)

func TestAwardAddsPointsHistoryAndBadges(t *testing.T) {
	s := profile.New("You", "Santhosh Kumar")
	at := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)

	p, unlocked, err := s.Award(domain.PointAward{ActorID: "You", IssueID: "1", Points: 150, Action: "Solved: pothole", AwardedAt: at})
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if p.Points != 150 || p.SolvedCount != 1 || len(p.History) != 1 || p.History[0].IssueID != "1" {
		t.Fatalf("profile after award: %+v", p)
	}
	if len(unlocked) != 1 || unlocked[0].ID != "first_fix" {
		t.Fatalf("expected first_fix badge, got %+v", unlocked)
	}

	for i := 0; i < 3; i++ {
		p, unlocked, _ = s.Award(domain.PointAward{ActorID: "You", IssueID: "x", Points: 150, AwardedAt: at})
	}
	if p.Points != 600 || len(unlocked) != 1 || unlocked[0].ID != "points_500" {
		t.Fatalf("expected points_500 on fourth award, got %d %+v", p.Points, unlocked)
	}
	if p.History[0].IssueID != "x" || p.History[3].IssueID != "1" {
		t.Fatalf("history not most recent first")
	}
	if len(p.Badges) != 2 {
		t.Fatalf("badges: %+v", p.Badges)
	}
}

func TestAwardForOtherActorRejected(t *testing.T) {
	s := profile.New("You", "")
	if _, _, err := s.Award(domain.PointAward{ActorID: "bob", Points: 150}); err == nil {
		t.Fatalf("expected error")
	}
	if s.Get().Points != 0 {
		t.Fatalf("rejected award changed points")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := profile.New("You", "")
	_, _, _ = s.Award(domain.PointAward{ActorID: "You", Points: 10})
	p := s.Get()
	p.History[0].Points = 999
	if s.Get().History[0].Points != 10 {
		t.Fatalf("Get aliased internal history")
	}
}
