package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// activityWindow bounds how many recent sessions feed the activity log.
const activityWindow = 500

// Dashboard is the staff overview of one lot, or of every lot when the lot
// id is empty.
type Dashboard struct {
	Spots         model.SpotStats `json:"spots"`
	TodayRevenue  float64         `json:"today_revenue"`
	TodayVehicles int             `json:"today_vehicles"`
	PendingExits  int             `json:"pending_exits"`
	Since         time.Time       `json:"since"`
}

// StartOfDay is local midnight of now in loc. It is the single definition
// of "today" for revenue and vehicle counts.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// SpotStats counts the lot's spots by status.
func (s *Service) SpotStats(ctx context.Context, lotID string) (model.SpotStats, error) {
	return s.store.SpotStats(ctx, lotID)
}

// TodayRevenue sums total_amount over PAID sessions created since local
// midnight.
func (s *Service) TodayRevenue(ctx context.Context, lotID string) (float64, error) {
	return s.store.SumPaidSince(ctx, lotID, StartOfDay(s.clock(), s.opts.Location))
}

// TodayVehicleCount counts sessions of any status created since local
// midnight.
func (s *Service) TodayVehicleCount(ctx context.Context, lotID string) (int, error) {
	return s.store.CountSessionsSince(ctx, lotID, StartOfDay(s.clock(), s.opts.Location))
}

// Dashboard assembles the staff overview.
func (s *Service) Dashboard(ctx context.Context, who identity.Session, lotID string) (Dashboard, error) {
	if err := requireStaff(who); err != nil {
		return Dashboard{}, err
	}
	var d Dashboard
	var err error
	d.Since = StartOfDay(s.clock(), s.opts.Location)
	if d.Spots, err = s.SpotStats(ctx, lotID); err != nil {
		return Dashboard{}, err
	}
	if d.TodayRevenue, err = s.TodayRevenue(ctx, lotID); err != nil {
		return Dashboard{}, err
	}
	if d.TodayVehicles, err = s.TodayVehicleCount(ctx, lotID); err != nil {
		return Dashboard{}, err
	}
	pending, err := s.PendingExits(ctx, who, lotID)
	if err != nil {
		return Dashboard{}, err
	}
	d.PendingExits = len(pending)
	return d, nil
}

// ActivityLogs returns up to limit gate events, newest first. typ selects
// ENTRY, EXIT or ALL; anything else is treated as ALL.
func (s *Service) ActivityLogs(ctx context.Context, who identity.Session, limit int, typ model.ActivityType) ([]model.ActivityLog, error) {
	if err := requireStaff(who); err != nil {
		return nil, err
	}
	logs, err := s.activity(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ActivityLog, 0, len(logs))
	for _, l := range logs {
		if typ == model.ActivityEntry || typ == model.ActivityExit {
			if l.Type != typ {
				continue
			}
		}
		out = append(out, l)
	}
	return capLogs(out, limit), nil
}

// RecentActivity is ActivityLogs with every event type.
func (s *Service) RecentActivity(ctx context.Context, who identity.Session, limit int) ([]model.ActivityLog, error) {
	return s.ActivityLogs(ctx, who, limit, model.ActivityAll)
}

// SearchLogs returns gate events whose spot code or plate contains query,
// case-insensitively.
func (s *Service) SearchLogs(ctx context.Context, who identity.Session, query string) ([]model.ActivityLog, error) {
	if err := requireStaff(who); err != nil {
		return nil, err
	}
	logs, err := s.activity(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return logs, nil
	}
	out := make([]model.ActivityLog, 0)
	for _, l := range logs {
		if strings.Contains(strings.ToLower(l.SpotCode), q) || strings.Contains(strings.ToLower(l.LicensePlate), q) {
			out = append(out, l)
		}
	}
	return out, nil
}

// activity derives entry and exit events from the most recent sessions.
func (s *Service) activity(ctx context.Context) ([]model.ActivityLog, error) {
	sessions, err := s.store.ListSessions(ctx, model.SessionQuery{Limit: activityWindow})
	if err != nil {
		return nil, err
	}
	logs := make([]model.ActivityLog, 0, 2*len(sessions))
	for _, sess := range sessions {
		logs = append(logs, model.ActivityLog{
			Type: model.ActivityEntry, SessionID: sess.ID, LotID: sess.LotID, SpotCode: sess.SpotCode,
			LicensePlate: sess.LicensePlate, At: sess.EnteredAt, Status: sess.Status,
		})
		if sess.ExitedAt.Valid {
			logs = append(logs, model.ActivityLog{
				Type: model.ActivityExit, SessionID: sess.ID, LotID: sess.LotID, SpotCode: sess.SpotCode,
				LicensePlate: sess.LicensePlate, At: sess.ExitedAt.Time, Amount: sess.TotalAmount, Status: sess.Status,
			})
		}
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].At.After(logs[j].At) })
	return logs, nil
}

func capLogs(logs []model.ActivityLog, limit int) []model.ActivityLog {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if len(logs) > limit {
		return logs[:limit]
	}
	return logs
}
