package model

import (
	"testing"
	"time"
)

func TestSpotTransitionsStayConsistent(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := ParkingSpot{ID: "s1", LotID: "l1", Code: "A1"}
	s.MarkAvailable(now)
	if !s.Consistent() || s.Status != SpotAvailable {
		t.Fatalf("available spot inconsistent: %+v", s)
	}

	s.MarkReserved("u1", now)
	if !s.Consistent() || !s.ReservedBy("u1") || s.ReservedBy("u2") {
		t.Fatalf("reserved spot inconsistent: %+v", s)
	}

	s.MarkOccupied("sess1", "ABC123", now)
	if !s.Consistent() || !s.OccupiedBy("sess1") || s.ReservedByUserID.Valid {
		t.Fatalf("occupied spot inconsistent: %+v", s)
	}
	if s.CurrentCarLabel.String != "ABC123" {
		t.Errorf("car label = %q", s.CurrentCarLabel.String)
	}

	s.MarkOutOfService(now)
	if !s.Consistent() || s.IsAvailable || s.CurrentCarLabel.Valid {
		t.Fatalf("out of service spot inconsistent: %+v", s)
	}
}

func TestConsistentRejectsTwoFlags(t *testing.T) {
	s := ParkingSpot{IsAvailable: true, IsOccupied: true, Status: SpotOccupied}
	if s.Consistent() {
		t.Fatal("two flags set should be inconsistent")
	}
}

func TestParseSpotFilter(t *testing.T) {
	cases := map[string]bool{"": true, "ALL": true, "AVAILABLE": true, "OCCUPIED": true, "RESERVED": true, "available": false, "FREE": false}
	for in, ok := range cases {
		if _, got := ParseSpotFilter(in); got != ok {
			t.Errorf("ParseSpotFilter(%q) ok = %v, want %v", in, got, ok)
		}
	}
}

func TestSessionQueryMatch(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := ParkingSession{UserID: "u1", LotID: "l1", Status: SessionPaid, PaymentStatus: PaymentPaid, EnteredAt: base.Add(2 * time.Hour)}
	cases := []struct {
		name string
		q    SessionQuery
		want bool
	}{
		{"empty", SessionQuery{}, true},
		{"other user", SessionQuery{UserID: "u2"}, false},
		{"exclude active", SessionQuery{ExcludeActive: true}, true},
		{"status list", SessionQuery{Statuses: []SessionStatus{SessionActive}}, false},
		{"window hit", SessionQuery{From: base, To: base.Add(3 * time.Hour)}, true},
		{"window end exclusive", SessionQuery{From: base, To: base.Add(2 * time.Hour)}, false},
		{"payment", SessionQuery{Payment: []PaymentStatus{PaymentPaid}}, true},
	}
	for _, tc := range cases {
		if got := tc.q.Match(s); got != tc.want {
			t.Errorf("%s: Match = %v, want %v", tc.name, got, tc.want)
		}
	}
}
