package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/realtime"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *repository.MemoryStore
	events *recordingPublisher
	now    time.Time
	lot    model.ParkingLot
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

var (
	driver = identity.Session{ID: "sid-d", UserID: "u-driver", Role: model.RoleDriver}
	other  = identity.Session{ID: "sid-o", UserID: "u-other", Role: model.RoleDriver}
	staff  = identity.Session{ID: "sid-s", UserID: "u-staff", Role: model.RoleStaff}
)

func newFixture(t *testing.T, spots int) *fixture {
	t.Helper()
	f := &fixture{store: repository.NewMemoryStore(), events: &recordingPublisher{}, now: t0}
	ids := identity.NewManager(identity.NewMemoryRegistry(), nil)
	f.svc = New(f.store, realtime.NewBroker(), ids, f.events, Options{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		BcryptCost: 4,
	})
	f.svc.now = func() time.Time { return f.now }

	ctx := context.Background()
	f.lot = model.ParkingLot{ID: "lot1", Name: "Central", HourlyRate: 50, Status: model.LotActive, CreatedAt: t0, UpdatedAt: t0}
	if err := f.store.CreateLot(ctx, f.lot); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= spots; i++ {
		s := model.ParkingSpot{ID: fmt.Sprintf("spot%d", i), LotID: f.lot.ID, Code: fmt.Sprintf("A%d", i), Number: i, CreatedAt: t0}
		s.MarkAvailable(t0)
		if err := f.store.CreateSpot(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) spot(t *testing.T, id string) model.ParkingSpot {
	t.Helper()
	s, err := f.store.GetSpot(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Consistent() {
		t.Fatalf("spot %s flags inconsistent: %+v", id, s)
	}
	return s
}

func TestReserveConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := identity.Session{ID: fmt.Sprintf("sid%d", i), UserID: fmt.Sprintf("u%d", i), Role: model.RoleDriver}
			_, err := f.svc.Reserve(ctx, who, ReserveInput{LotID: "lot1", SpotID: "spot1", LicensePlate: fmt.Sprintf("p%d", i), DurationHours: 2})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	wins, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, repository.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins=%d conflicts=%d", wins, conflicts)
	}
	s := f.spot(t, "spot1")
	if !s.IsReserved || s.IsAvailable || s.Status != model.SpotReserved {
		t.Fatalf("spot not reserved: %+v", s)
	}
}

func TestReserveThenCancelRestoresSpot(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	r, err := f.svc.Reserve(ctx, driver, ReserveInput{LotID: "lot1", SpotCode: "A2", LicensePlate: " ab-123 ", DurationHours: 3})
	if err != nil {
		t.Fatal(err)
	}
	if r.SpotID != "spot2" || r.LicensePlate != "AB-123" {
		t.Fatalf("unexpected reservation %+v", r)
	}
	if r.TotalAmount != 150 || r.LotRateAmount != 150 {
		t.Fatalf("prices = %v / %v", r.TotalAmount, r.LotRateAmount)
	}
	if !r.ReserveEnd.Equal(t0.Add(3 * time.Hour)) {
		t.Fatalf("reserve_end = %v", r.ReserveEnd)
	}

	if _, err := f.svc.CancelReservation(ctx, other, r.ID); !errors.Is(err, repository.ErrForbidden) {
		t.Fatalf("cancel by another driver: %v", err)
	}
	got, err := f.svc.CancelReservation(ctx, driver, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ReservationCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	s := f.spot(t, "spot2")
	if !s.IsAvailable || s.IsReserved || s.Status != model.SpotAvailable || s.ReservedByUserID.Valid {
		t.Fatalf("spot not restored: %+v", s)
	}
	if _, err := f.svc.CancelReservation(ctx, driver, r.ID); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("second cancel: %v", err)
	}
	want := []queue.EventType{queue.ReservationCreated, queue.ReservationCancelled}
	if got := f.events.types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	cases := []struct {
		name string
		in   ReserveInput
		want error
	}{
		{"no spot", ReserveInput{LotID: "lot1", LicensePlate: "X", DurationHours: 1}, repository.ErrValidation},
		{"zero hours", ReserveInput{LotID: "lot1", SpotID: "spot1", LicensePlate: "X"}, repository.ErrValidation},
		{"too long", ReserveInput{LotID: "lot1", SpotID: "spot1", LicensePlate: "X", DurationHours: 25}, repository.ErrValidation},
		{"no plate", ReserveInput{LotID: "lot1", SpotID: "spot1", DurationHours: 1}, repository.ErrValidation},
		{"unknown lot", ReserveInput{LotID: "nope", SpotID: "spot1", LicensePlate: "X", DurationHours: 1}, repository.ErrNotFound},
		{"unknown code", ReserveInput{LotID: "lot1", SpotCode: "Z9", LicensePlate: "X", DurationHours: 1}, repository.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Reserve(ctx, driver, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCheckInThenCheckoutAndConfirm(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	r, err := f.svc.Reserve(ctx, driver, ReserveInput{LotID: "lot1", SpotID: "spot1", LicensePlate: "CAR1", DurationHours: 1})
	if err != nil {
		t.Fatal(err)
	}
	f.advance(5 * time.Minute)
	sess, err := f.svc.CheckIn(ctx, driver, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != model.SessionActive || sess.PaymentStatus != model.PaymentPending || sess.ReservationID.String != r.ID {
		t.Fatalf("unexpected session %+v", sess)
	}
	if s := f.spot(t, "spot1"); !s.OccupiedBy(sess.ID) {
		t.Fatalf("spot not occupied by session: %+v", s)
	}
	if got, _ := f.store.GetReservation(ctx, r.ID); got.Status != model.ReservationCompleted {
		t.Fatalf("reservation status = %s", got.Status)
	}

	f.advance(61 * time.Minute)
	out, err := f.svc.Checkout(ctx, driver, sess.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if out.TotalAmount != 100 || out.DurationMinutes != 61 || out.PaymentStatus != model.PaymentPendingConfirmation {
		t.Fatalf("checkout = %+v", out)
	}
	if out.Status != model.SessionActive {
		t.Fatalf("checkout must keep the session active, got %s", out.Status)
	}
	if _, err := f.svc.Checkout(ctx, driver, sess.ID, ""); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("second checkout: %v", err)
	}

	pending, err := f.svc.PendingExits(ctx, staff, "lot1")
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending exits = %v, %v", pending, err)
	}

	f.advance(10 * time.Minute)
	paid, err := f.svc.ConfirmPayment(ctx, staff, sess.ID, ConfirmPaymentInput{Method: "CASH"})
	if err != nil {
		t.Fatal(err)
	}
	if paid.Status != model.SessionCompleted || paid.PaymentStatus != model.PaymentPaid || paid.AmountPaid != 100 {
		t.Fatalf("confirm = %+v", paid)
	}
	if !paid.ExitedAt.Time.Equal(out.ExitedAt.Time) {
		t.Fatalf("confirm moved exited_at from %v to %v", out.ExitedAt.Time, paid.ExitedAt.Time)
	}
	if s := f.spot(t, "spot1"); !s.IsAvailable {
		t.Fatalf("spot not freed: %+v", s)
	}
}

func TestPartialPaymentKeepsSessionActive(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	sess, err := f.svc.StartSession(ctx, staff, StartSessionInput{LotID: "lot1", LicensePlate: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	f.advance(150 * time.Minute)

	part, err := f.svc.ConfirmPayment(ctx, staff, sess.ID, ConfirmPaymentInput{Amount: 100})
	if err != nil {
		t.Fatal(err)
	}
	if part.Status != model.SessionActive || part.PaymentStatus != model.PaymentPartial || part.TotalAmount != 150 {
		t.Fatalf("partial = %+v", part)
	}
	if s := f.spot(t, "spot1"); !s.IsOccupied {
		t.Fatalf("spot freed on partial payment: %+v", s)
	}
	done, err := f.svc.ConfirmPayment(ctx, staff, sess.ID, ConfirmPaymentInput{})
	if err != nil {
		t.Fatal(err)
	}
	if done.AmountPaid != 150 || done.Status != model.SessionCompleted {
		t.Fatalf("settle = %+v", done)
	}
}

func TestConfirmAndOverrideAreTerminal(t *testing.T) {
	for _, order := range []string{"confirm-first", "override-first"} {
		t.Run(order, func(t *testing.T) {
			f := newFixture(t, 1)
			ctx := context.Background()
			sess, err := f.svc.StartSession(ctx, staff, StartSessionInput{LotID: "lot1", SpotID: "spot1", LicensePlate: "T1"})
			if err != nil {
				t.Fatal(err)
			}
			f.advance(30 * time.Minute)

			confirm := func() error {
				_, err := f.svc.ConfirmPayment(ctx, staff, sess.ID, ConfirmPaymentInput{})
				return err
			}
			override := func() error {
				_, err := f.svc.OverrideFee(ctx, staff, sess.ID, OverrideFeeInput{Amount: 10, Reason: "loyalty"})
				return err
			}
			first, second := confirm, override
			if order == "override-first" {
				first, second = override, confirm
			}
			if err := first(); err != nil {
				t.Fatal(err)
			}
			before, _ := f.store.GetSession(ctx, sess.ID)
			for _, again := range []func() error{first, second} {
				if err := again(); !errors.Is(err, repository.ErrConflict) {
					t.Fatalf("expected Conflict, got %v", err)
				}
			}
			after, _ := f.store.GetSession(ctx, sess.ID)
			if after.Version != before.Version || after.TotalAmount != before.TotalAmount || after.FeeOverride != before.FeeOverride {
				t.Fatalf("session changed after terminal: %+v -> %+v", before, after)
			}
		})
	}
}

func TestOverrideFeeRecordsReason(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	sess, err := f.svc.StartSession(ctx, staff, StartSessionInput{LotID: "lot1", LicensePlate: "O1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.OverrideFee(ctx, staff, sess.ID, OverrideFeeInput{Amount: 5}); !errors.Is(err, repository.ErrValidation) {
		t.Fatalf("missing reason: %v", err)
	}
	if _, err := f.svc.OverrideFee(ctx, driver, sess.ID, OverrideFeeInput{Amount: 5, Reason: "x"}); !errors.Is(err, repository.ErrForbidden) {
		t.Fatalf("driver override: %v", err)
	}
	got, err := f.svc.OverrideFee(ctx, staff, sess.ID, OverrideFeeInput{Amount: 12.346, Reason: "broken gate"})
	if err != nil {
		t.Fatal(err)
	}
	if !got.FeeOverride || got.FeeOverrideReason.String != "broken gate" || got.TotalAmount != 12.35 || got.PaymentStatus != model.PaymentPaid {
		t.Fatalf("override = %+v", got)
	}
}

func TestWalkInTakesFirstAvailable(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	if _, err := f.svc.SetSpotState(ctx, staff, "spot1", model.SpotOutOfService); err != nil {
		t.Fatal(err)
	}
	a, err := f.svc.VehicleEntry(ctx, "lot1", "aa 1", model.EntryCamera)
	if err != nil {
		t.Fatal(err)
	}
	if a.SpotID != "spot2" || a.LicensePlate != "AA 1" || a.EntryMethod != model.EntryCamera {
		t.Fatalf("first walk-in = %+v", a)
	}
	if _, err := f.svc.VehicleEntry(ctx, "lot1", "AA 1", model.EntryCamera); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("duplicate entry: %v", err)
	}
	b, err := f.svc.VehicleEntry(ctx, "lot1", "BB 2", model.EntryCamera)
	if err != nil || b.SpotID != "spot3" {
		t.Fatalf("second walk-in = %+v, %v", b, err)
	}
	if _, err := f.svc.VehicleEntry(ctx, "lot1", "CC 3", model.EntryCamera); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("full lot: %v", err)
	}

	f.advance(61 * time.Minute)
	out, err := f.svc.VehicleExit(ctx, "lot1", "aa 1", "")
	if err != nil {
		t.Fatal(err)
	}
	if out.TotalAmount != 100 || out.ExitMethod.String != string(model.EntryCamera) {
		t.Fatalf("exit = %+v", out)
	}
	if _, err := f.svc.VehicleExit(ctx, "lot1", "ZZ 9", ""); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown plate exit: %v", err)
	}
}

func TestVehicleEntryUsesReservation(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	r, err := f.svc.Reserve(ctx, driver, ReserveInput{LotID: "lot1", SpotID: "spot2", LicensePlate: "RES1", DurationHours: 2})
	if err != nil {
		t.Fatal(err)
	}
	sess, err := f.svc.VehicleEntry(ctx, "lot1", "res1", model.EntryCamera)
	if err != nil {
		t.Fatal(err)
	}
	if sess.SpotID != "spot2" || sess.ReservationID.String != r.ID || sess.UserID != driver.UserID {
		t.Fatalf("entry did not use reservation: %+v", sess)
	}
}

func TestCheckInAfterWindowIsRefused(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	r, err := f.svc.Reserve(ctx, driver, ReserveInput{LotID: "lot1", SpotID: "spot1", LicensePlate: "LATE1", DurationHours: 1})
	if err != nil {
		t.Fatal(err)
	}
	f.advance(61 * time.Minute)
	if _, err := f.svc.CheckIn(ctx, driver, r.ID); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("late check-in: %v", err)
	}
	if got, _ := f.store.GetReservation(ctx, r.ID); got.Status != model.ReservationActive {
		t.Fatalf("reservation status = %s", got.Status)
	}

	// the gate parks the car elsewhere until the expiry job frees spot1
	sess, err := f.svc.VehicleEntry(ctx, "lot1", "late1", model.EntryCamera)
	if err != nil {
		t.Fatal(err)
	}
	if sess.SpotID != "spot2" || sess.ReservationID.Valid {
		t.Fatalf("late entry = %+v", sess)
	}
}

func TestVehicleExitAfterDeskOrAppSettlement(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	desk, err := f.svc.VehicleEntry(ctx, "lot1", "DESK1", model.EntryCamera)
	if err != nil {
		t.Fatal(err)
	}
	f.advance(30 * time.Minute)
	if _, err := f.svc.ConfirmPayment(ctx, staff, desk.ID, ConfirmPaymentInput{Method: "CASH"}); err != nil {
		t.Fatal(err)
	}
	f.advance(10 * time.Minute)
	out, err := f.svc.VehicleExit(ctx, "lot1", "desk1", "")
	if err != nil {
		t.Fatal(err)
	}
	if out.ID != desk.ID || out.PaymentStatus != model.PaymentPaid {
		t.Fatalf("paid exit = %+v", out)
	}
	f.advance(paidExitGrace)
	if _, err := f.svc.VehicleExit(ctx, "lot1", "desk1", ""); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("exit after grace: %v", err)
	}

	app, err := f.svc.StartSession(ctx, staff, StartSessionInput{LotID: "lot1", LicensePlate: "APP1", UserID: driver.UserID})
	if err != nil {
		t.Fatal(err)
	}
	f.advance(45 * time.Minute)
	checked, err := f.svc.Checkout(ctx, driver, app.ID, "APP")
	if err != nil {
		t.Fatal(err)
	}
	f.advance(5 * time.Minute)
	gate, err := f.svc.VehicleExit(ctx, "lot1", "APP1", "")
	if err != nil {
		t.Fatal(err)
	}
	if gate.ID != app.ID || gate.Version != checked.Version || !gate.ExitedAt.Time.Equal(checked.ExitedAt.Time) {
		t.Fatalf("gate exit rewrote the app checkout: %+v", gate)
	}
	if gate.PaymentStatus != model.PaymentPendingConfirmation {
		t.Fatalf("payment status = %s", gate.PaymentStatus)
	}
}

func TestCancelSessionFreesSpot(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	sess, err := f.svc.StartSession(ctx, staff, StartSessionInput{LotID: "lot1", LicensePlate: "C1"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.CancelSession(ctx, staff, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.SessionCancelled || !got.ExitedAt.Valid {
		t.Fatalf("cancel = %+v", got)
	}
	if s := f.spot(t, "spot1"); !s.IsAvailable {
		t.Fatalf("spot not freed: %+v", s)
	}
	if _, err := f.svc.CancelSession(ctx, staff, sess.ID); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("second cancel: %v", err)
	}
}

func importSession(t *testing.T, f *fixture, id string, status model.SessionStatus, pay model.PaymentStatus, amount float64, created time.Time) {
	t.Helper()
	s := model.ParkingSession{
		ID: id, UserID: driver.UserID, LotID: "lot1", SpotID: "spot1", SpotCode: "A1", LicensePlate: "P-" + id,
		EnteredAt: created, Status: status, PaymentStatus: pay, TotalAmount: amount, HourlyRate: 50,
		EntryMethod: model.EntryManual, CreatedAt: created, UpdatedAt: created,
	}
	if status.Terminal() {
		s.ExitedAt = null.TimeFrom(created.Add(time.Hour))
	}
	if err := f.store.ImportSession(context.Background(), s); err != nil {
		t.Fatal(err)
	}
}

func TestListHistoryExcludesActive(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		importSession(t, f, fmt.Sprintf("a%d", i), model.SessionActive, model.PaymentPending, 0, t0.Add(time.Duration(i)*time.Minute))
	}
	importSession(t, f, "h1", model.SessionCompleted, model.PaymentPaid, 50, t0.Add(-3*time.Hour))
	importSession(t, f, "h2", model.SessionPaid, model.PaymentPaid, 50, t0.Add(-2*time.Hour))
	importSession(t, f, "h3", model.SessionCancelled, model.PaymentPending, 0, t0.Add(-1*time.Hour))

	got, err := f.svc.ListHistory(ctx, driver, HistoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("history len = %d, want 3", len(got))
	}
	if got[0].ID != "h3" || got[2].ID != "h1" {
		t.Fatalf("history not newest first: %s..%s", got[0].ID, got[2].ID)
	}

	if _, err := f.svc.ListHistory(ctx, driver, HistoryFilter{Status: "ACTIVE"}); !errors.Is(err, repository.ErrValidation) {
		t.Fatalf("ACTIVE filter: %v", err)
	}
	only, err := f.svc.ListHistory(ctx, driver, HistoryFilter{Status: "cancelled"})
	if err != nil || len(only) != 1 || only[0].ID != "h3" {
		t.Fatalf("cancelled filter = %v, %v", only, err)
	}
	if _, err := f.svc.ListHistory(ctx, driver, HistoryFilter{From: t0, To: t0}); !errors.Is(err, repository.ErrValidation) {
		t.Fatalf("empty range: %v", err)
	}
	if theirs, _ := f.svc.ListHistory(ctx, other, HistoryFilter{}); len(theirs) != 0 {
		t.Fatalf("another driver sees %d sessions", len(theirs))
	}
}

func TestTodayRevenueCountsOnlyPaidToday(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.now = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)
	today := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	importSession(t, f, "paid-today", model.SessionCompleted, model.PaymentPaid, 100, today)
	importSession(t, f, "unpaid-today", model.SessionActive, model.PaymentPending, 50, today.Add(time.Hour))
	importSession(t, f, "paid-yesterday", model.SessionCompleted, model.PaymentPaid, 200, today.Add(-24*time.Hour))

	rev, err := f.svc.TodayRevenue(ctx, "lot1")
	if err != nil {
		t.Fatal(err)
	}
	if rev != 100 {
		t.Fatalf("revenue = %v, want 100", rev)
	}
	n, err := f.svc.TodayVehicleCount(ctx, "lot1")
	if err != nil || n != 2 {
		t.Fatalf("vehicle count = %d, %v", n, err)
	}
	d, err := f.svc.Dashboard(ctx, staff, "lot1")
	if err != nil {
		t.Fatal(err)
	}
	if d.TodayRevenue != 100 || d.TodayVehicles != 2 || d.PendingExits != 1 || d.Spots.Total != 1 {
		t.Fatalf("dashboard = %+v", d)
	}
	if _, err := f.svc.Dashboard(ctx, driver, "lot1"); !errors.Is(err, repository.ErrForbidden) {
		t.Fatalf("driver dashboard: %v", err)
	}
}

func TestStartOfDayUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	now := time.Date(2025, 3, 1, 22, 30, 0, 0, time.UTC)
	got := StartOfDay(now, loc)
	want := time.Date(2025, 3, 2, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("StartOfDay = %v, want %v", got, want)
	}
	if !StartOfDay(now, nil).Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("nil location should mean UTC")
	}
}

func TestActivityLogs(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	importSession(t, f, "old", model.SessionCompleted, model.PaymentPaid, 50, t0.Add(-5*time.Hour))
	importSession(t, f, "new", model.SessionActive, model.PaymentPending, 0, t0)

	all, err := f.svc.RecentActivity(ctx, staff, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("activity len = %d, want 3", len(all))
	}
	if all[0].SessionID != "new" || all[0].Type != model.ActivityEntry {
		t.Fatalf("newest event = %+v", all[0])
	}
	exits, _ := f.svc.ActivityLogs(ctx, staff, 10, model.ActivityExit)
	if len(exits) != 1 || exits[0].SessionID != "old" || exits[0].Amount != 50 {
		t.Fatalf("exits = %+v", exits)
	}
	found, _ := f.svc.SearchLogs(ctx, staff, "p-new")
	if len(found) != 1 {
		t.Fatalf("search = %+v", found)
	}
}

func TestExpireReservationsReleasesSpots(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	if _, err := f.svc.Reserve(ctx, driver, ReserveInput{LotID: "lot1", SpotID: "spot1", LicensePlate: "E1", DurationHours: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Reserve(ctx, other, ReserveInput{LotID: "lot1", SpotID: "spot2", LicensePlate: "E2", DurationHours: 4}); err != nil {
		t.Fatal(err)
	}
	f.advance(2 * time.Hour)
	n, err := f.svc.ExpireReservations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	if s := f.spot(t, "spot1"); !s.IsAvailable {
		t.Fatalf("spot1 not released: %+v", s)
	}
	if s := f.spot(t, "spot2"); !s.IsReserved {
		t.Fatalf("spot2 released early: %+v", s)
	}
}

func TestVehiclesSinglePrimary(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	first, err := f.svc.AddVehicle(ctx, driver, VehicleInput{LicensePlate: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if !first.IsPrimary || first.VehicleType != "SEDAN" {
		t.Fatalf("first vehicle = %+v", first)
	}
	second, err := f.svc.AddVehicle(ctx, driver, VehicleInput{LicensePlate: "v2", VehicleType: "SUV"})
	if err != nil {
		t.Fatal(err)
	}
	if second.IsPrimary {
		t.Fatal("second vehicle should not be primary")
	}
	if _, err := f.svc.AddVehicle(ctx, driver, VehicleInput{LicensePlate: "v3", VehicleType: "BOAT"}); !errors.Is(err, repository.ErrValidation) {
		t.Fatalf("bad type: %v", err)
	}
	if err := f.svc.SetPrimaryVehicle(ctx, other, second.ID); !errors.Is(err, repository.ErrForbidden) {
		t.Fatalf("foreign set-primary: %v", err)
	}
	if err := f.svc.SetPrimaryVehicle(ctx, driver, second.ID); err != nil {
		t.Fatal(err)
	}
	list, err := f.svc.ListVehicles(ctx, driver)
	if err != nil {
		t.Fatal(err)
	}
	primaries := 0
	for _, v := range list {
		if v.IsPrimary {
			primaries++
			if v.ID != second.ID {
				t.Fatalf("wrong primary %s", v.ID)
			}
		}
	}
	if primaries != 1 {
		t.Fatalf("primaries = %d", primaries)
	}
}

func TestAuthLifecycle(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, RegisterInput{Email: " Ann@Example.com ", Password: "s3cret-pass"})
	if err != nil {
		t.Fatal(err)
	}
	if res.User.Role != model.RoleDriver || res.User.Email != "ann@example.com" || res.User.Name != "ann" {
		t.Fatalf("registered user = %+v", res.User)
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "another-pass"}); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("duplicate email: %v", err)
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "boss@example.com", Password: "s3cret-pass", Role: "STAFF"}); !errors.Is(err, repository.ErrForbidden) {
		t.Fatalf("staff signup: %v", err)
	}
	if _, err := f.svc.Login(ctx, LoginInput{Email: "ann@example.com", Password: "wrong-pass"}); !errors.Is(err, repository.ErrUnauthorized) {
		t.Fatalf("bad password: %v", err)
	}

	who, err := f.svc.Authenticate(ctx, res.Access.Token)
	if err != nil {
		t.Fatal(err)
	}
	if who.UserID != res.User.ID || who.ID != res.Session.ID {
		t.Fatalf("authenticated as %+v", who)
	}

	rotated, err := f.svc.Refresh(ctx, res.Refresh.Raw)
	if err != nil {
		t.Fatal(err)
	}
	if rotated.Session.ID != res.Session.ID {
		t.Fatal("refresh must keep the identity session")
	}
	if _, err := f.svc.Refresh(ctx, res.Refresh.Raw); !errors.Is(err, repository.ErrUnauthorized) {
		t.Fatalf("reused refresh token: %v", err)
	}

	if err := f.svc.Logout(ctx, who); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Authenticate(ctx, rotated.Access.Token); !errors.Is(err, repository.ErrUnauthorized) {
		t.Fatalf("token after logout: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, rotated.Refresh.Raw); !errors.Is(err, repository.ErrUnauthorized) {
		t.Fatalf("refresh after logout: %v", err)
	}
}

func TestObserveUserReservationsEndsOnLogout(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	res, err := f.svc.Register(ctx, RegisterInput{Email: "obs@example.com", Password: "s3cret-pass"})
	if err != nil {
		t.Fatal(err)
	}
	who := res.Session

	feed, err := f.svc.ObserveUserReservations(ctx, who)
	if err != nil {
		t.Fatal(err)
	}
	first := recv(t, feed)
	if len(first.Changes) != 0 {
		t.Fatalf("initial event = %+v", first)
	}

	r, err := f.svc.Reserve(ctx, who, ReserveInput{LotID: "lot1", SpotID: "spot1", LicensePlate: "OBS", DurationHours: 1})
	if err != nil {
		t.Fatal(err)
	}
	ev := recv(t, feed)
	if len(ev.Changes) != 1 || ev.Changes[0].Type != realtime.Added || ev.Changes[0].ID != r.ID {
		t.Fatalf("reserve event = %+v", ev)
	}

	if err := f.svc.Logout(ctx, who); err != nil {
		t.Fatal(err)
	}
	select {
	case _, ok := <-feed:
		for ok {
			_, ok = <-feed
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed after logout")
	}
}

func recv[T any](t *testing.T, ch <-chan realtime.Event[T]) realtime.Event[T] {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("feed closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return realtime.Event[T]{}
}
