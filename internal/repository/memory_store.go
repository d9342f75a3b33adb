package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// MemoryStore keeps every collection in process memory behind a single
// mutex, so each method is one atomic step with the same preconditions as
// the SQL transactions in MySQLStore. It backs the test suite and
// STORE_DRIVER=memory.
type MemoryStore struct {
	mu           sync.Mutex
	lots         map[string]model.ParkingLot
	spots        map[string]model.ParkingSpot
	reservations map[string]model.Reservation
	sessions     map[string]model.ParkingSession
	vehicles     map[string]model.Vehicle
	users        map[string]model.User
	tokens       map[string]model.RefreshToken
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lots:         map[string]model.ParkingLot{},
		spots:        map[string]model.ParkingSpot{},
		reservations: map[string]model.Reservation{},
		sessions:     map[string]model.ParkingSession{},
		vehicles:     map[string]model.Vehicle{},
		users:        map[string]model.User{},
		tokens:       map[string]model.RefreshToken{},
	}
}

// ---- Lots ----

func (m *MemoryStore) CreateLot(_ context.Context, lot model.ParkingLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lots[lot.ID]; ok {
		return fmt.Errorf("%w: lot %s already exists", ErrConflict, lot.ID)
	}
	m.lots[lot.ID] = lot
	return nil
}

func (m *MemoryStore) GetLot(_ context.Context, id string) (model.ParkingLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lot, ok := m.lots[id]
	if !ok {
		return model.ParkingLot{}, fmt.Errorf("%w: lot %s", ErrNotFound, id)
	}
	return m.withCounts(lot), nil
}

func (m *MemoryStore) ListLots(_ context.Context, activeOnly bool) ([]model.ParkingLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ParkingLot, 0, len(m.lots))
	for _, lot := range m.lots {
		if activeOnly && !lot.Active() {
			continue
		}
		out = append(out, m.withCounts(lot))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) withCounts(lot model.ParkingLot) model.ParkingLot {
	lot.TotalSpots, lot.AvailableSpots = 0, 0
	for _, s := range m.spots {
		if s.LotID != lot.ID {
			continue
		}
		lot.TotalSpots++
		if s.IsAvailable {
			lot.AvailableSpots++
		}
	}
	return lot
}

// ---- Spots ----

func (m *MemoryStore) CreateSpot(_ context.Context, spot model.ParkingSpot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spots[spot.ID]; ok {
		return fmt.Errorf("%w: spot %s already exists", ErrConflict, spot.ID)
	}
	if _, ok := m.spotByCode(spot.LotID, spot.Code); ok {
		return fmt.Errorf("%w: spot code %s already used in lot", ErrConflict, spot.Code)
	}
	m.spots[spot.ID] = spot
	return nil
}

func (m *MemoryStore) UpdateSpot(_ context.Context, spot model.ParkingSpot) (model.ParkingSpot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.spots[spot.ID]
	if !ok {
		return model.ParkingSpot{}, fmt.Errorf("%w: spot %s", ErrNotFound, spot.ID)
	}
	if other, ok := m.spotByCode(cur.LotID, spot.Code); ok && other.ID != cur.ID {
		return model.ParkingSpot{}, fmt.Errorf("%w: spot code %s already used in lot", ErrConflict, spot.Code)
	}
	cur.Code, cur.Number, cur.Row, cur.Column, cur.VehicleType = spot.Code, spot.Number, spot.Row, spot.Column, spot.VehicleType
	cur.UpdatedAt = spot.UpdatedAt
	m.spots[cur.ID] = cur
	return cur, nil
}

func (m *MemoryStore) DeleteSpot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.spots[id]
	if !ok {
		return fmt.Errorf("%w: spot %s", ErrNotFound, id)
	}
	if cur.Status != model.SpotAvailable && cur.Status != model.SpotOutOfService {
		return fmt.Errorf("%w: spot %s is %s", ErrConflict, cur.Code, cur.Status)
	}
	delete(m.spots, id)
	return nil
}

func (m *MemoryStore) GetSpot(_ context.Context, id string) (model.ParkingSpot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spots[id]
	if !ok {
		return model.ParkingSpot{}, fmt.Errorf("%w: spot %s", ErrNotFound, id)
	}
	return s, nil
}

func (m *MemoryStore) FindSpotByCode(_ context.Context, lotID, code string) (model.ParkingSpot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spotByCode(lotID, code)
	if !ok {
		return model.ParkingSpot{}, fmt.Errorf("%w: spot %s in lot %s", ErrNotFound, code, lotID)
	}
	return s, nil
}

func (m *MemoryStore) spotByCode(lotID, code string) (model.ParkingSpot, bool) {
	for _, s := range m.spots {
		if s.LotID == lotID && s.Code == code {
			return s, true
		}
	}
	return model.ParkingSpot{}, false
}

func (m *MemoryStore) ListSpots(_ context.Context, lotID string, filter model.SpotFilter) ([]model.ParkingSpot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ParkingSpot, 0)
	for _, s := range m.spots {
		if lotID != "" && s.LotID != lotID {
			continue
		}
		if filter.Match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LotID != out[j].LotID {
			return out[i].LotID < out[j].LotID
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (m *MemoryStore) SpotStats(_ context.Context, lotID string) (model.SpotStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st model.SpotStats
	for _, s := range m.spots {
		if lotID == "" || s.LotID == lotID {
			st.Add(s.Status)
		}
	}
	return st, nil
}

func (m *MemoryStore) SetSpotStatus(_ context.Context, id string, status model.SpotStatus, now time.Time) (model.ParkingSpot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spots[id]
	if !ok {
		return model.ParkingSpot{}, fmt.Errorf("%w: spot %s", ErrNotFound, id)
	}
	if s.Status != model.SpotAvailable && s.Status != model.SpotOutOfService {
		return model.ParkingSpot{}, fmt.Errorf("%w: spot %s is %s", ErrConflict, s.Code, s.Status)
	}
	switch status {
	case model.SpotAvailable:
		s.MarkAvailable(now)
	case model.SpotOutOfService:
		s.MarkOutOfService(now)
	default:
		return model.ParkingSpot{}, fmt.Errorf("%w: status %s cannot be set directly", ErrValidation, status)
	}
	m.spots[id] = s
	return s, nil
}

func (m *MemoryStore) ResetSpots(_ context.Context, lotID string, now time.Time) (model.Changeset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := map[string]bool{}
	for _, r := range m.reservations {
		if r.Status == model.ReservationActive {
			held[r.SpotID] = true
		}
	}
	for _, s := range m.sessions {
		if s.Status == model.SessionActive {
			held[s.SpotID] = true
		}
	}
	var cs model.Changeset
	for id, s := range m.spots {
		if s.LotID != lotID || held[id] || s.Status == model.SpotAvailable && s.Consistent() {
			continue
		}
		s.MarkAvailable(now)
		m.spots[id] = s
		cs.Spots = append(cs.Spots, s)
	}
	return cs, nil
}

// ---- Reservations ----

func (m *MemoryStore) CreateReservation(_ context.Context, r model.Reservation) (model.Changeset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	spot, ok := m.spots[r.SpotID]
	if !ok {
		return model.Changeset{}, fmt.Errorf("%w: spot %s", ErrNotFound, r.SpotID)
	}
	if !spot.IsAvailable || spot.IsOccupied || spot.IsReserved {
		return model.Changeset{}, fmt.Errorf("%w: spot %s is not available", ErrConflict, spot.Code)
	}
	spot.MarkReserved(r.UserID, r.CreatedAt)
	m.spots[spot.ID] = spot
	m.reservations[r.ID] = r
	return model.Changeset{Spots: []model.ParkingSpot{spot}, Reservations: []model.Reservation{r}}, nil
}

func (m *MemoryStore) CancelReservation(_ context.Context, id string, now time.Time) (model.Changeset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeReservation(id, model.ReservationCancelled, now)
}

// closeReservation moves an ACTIVE reservation to status and releases its
// spot when the spot is still held by the reservation's user.
func (m *MemoryStore) closeReservation(id string, status model.ReservationStatus, now time.Time) (model.Changeset, error) {
	r, ok := m.reservations[id]
	if !ok {
		return model.Changeset{}, fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	if r.Status != model.ReservationActive {
		return model.Changeset{}, fmt.Errorf("%w: reservation is %s", ErrConflict, r.Status)
	}
	r.Status = status
	r.UpdatedAt = now
	m.reservations[id] = r
	cs := model.Changeset{Reservations: []model.Reservation{r}}
	if spot, ok := m.spots[r.SpotID]; ok && spot.ReservedBy(r.UserID) {
		spot.MarkAvailable(now)
		m.spots[spot.ID] = spot
		cs.Spots = append(cs.Spots, spot)
	}
	return cs, nil
}

func (m *MemoryStore) ExpireReservations(_ context.Context, now time.Time) (model.Changeset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cs model.Changeset
	for id, r := range m.reservations {
		if r.Status != model.ReservationActive || r.ReserveEnd.After(now) {
			continue
		}
		one, err := m.closeReservation(id, model.ReservationExpired, now)
		if err != nil {
			return cs, err
		}
		cs.Merge(one)
	}
	return cs, nil
}

func (m *MemoryStore) GetReservation(_ context.Context, id string) (model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return model.Reservation{}, fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	return r, nil
}

func (m *MemoryStore) ListReservations(_ context.Context, userID string, statuses []model.ReservationStatus) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Reservation, 0)
	for _, r := range m.reservations {
		if r.UserID != userID {
			continue
		}
		if len(statuses) > 0 && !hasReservationStatus(statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func hasReservationStatus(list []model.ReservationStatus, v model.ReservationStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (m *MemoryStore) FindActiveReservationByPlate(_ context.Context, lotID, plate string) (model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best model.Reservation
	found := false
	for _, r := range m.reservations {
		if r.Status != model.ReservationActive || r.LotID != lotID || !strings.EqualFold(r.LicensePlate, plate) {
			continue
		}
		if !found || r.ReserveStart.After(best.ReserveStart) {
			best, found = r, true
		}
	}
	if !found {
		return model.Reservation{}, fmt.Errorf("%w: no active reservation for %s", ErrNotFound, plate)
	}
	return best, nil
}

func (m *MemoryStore) ImportReservation(_ context.Context, r model.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.ID] = r
	return nil
}

// ---- Sessions ----

func (m *MemoryStore) OpenSession(_ context.Context, s model.ParkingSession) (model.Changeset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return model.Changeset{}, fmt.Errorf("%w: session %s already exists", ErrConflict, s.ID)
	}
	spot, ok := m.spots[s.SpotID]
	if !ok {
		return model.Changeset{}, fmt.Errorf("%w: spot %s", ErrNotFound, s.SpotID)
	}
	var cs model.Changeset
	if s.ReservationID.Valid {
		r, ok := m.reservations[s.ReservationID.String]
		if !ok {
			return model.Changeset{}, fmt.Errorf("%w: reservation %s", ErrNotFound, s.ReservationID.String)
		}
		if r.Status != model.ReservationActive {
			return model.Changeset{}, fmt.Errorf("%w: reservation is %s", ErrConflict, r.Status)
		}
		if !spot.ReservedBy(r.UserID) {
			return model.Changeset{}, fmt.Errorf("%w: spot %s is not held by the reservation", ErrConflict, spot.Code)
		}
		r.Status = model.ReservationCompleted
		r.SessionID = null.StringFrom(s.ID)
		r.UpdatedAt = s.CreatedAt
		m.reservations[r.ID] = r
		cs.Reservations = append(cs.Reservations, r)
	} else if !spot.IsAvailable || spot.IsOccupied || spot.IsReserved {
		return model.Changeset{}, fmt.Errorf("%w: spot %s is not available", ErrConflict, spot.Code)
	}
	spot.MarkOccupied(s.ID, s.LicensePlate, s.CreatedAt)
	m.spots[spot.ID] = spot
	m.sessions[s.ID] = s
	cs.Spots = append(cs.Spots, spot)
	cs.Sessions = append(cs.Sessions, s)
	return cs, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, prevVersion int, next model.ParkingSession) (model.Changeset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[next.ID]
	if !ok {
		return model.Changeset{}, fmt.Errorf("%w: session %s", ErrNotFound, next.ID)
	}
	if cur.Status.Terminal() {
		return model.Changeset{}, fmt.Errorf("%w: session is %s", ErrConflict, cur.Status)
	}
	if cur.Version != prevVersion {
		return model.Changeset{}, fmt.Errorf("%w: session %s was modified concurrently", ErrConflict, next.ID)
	}
	next.Version = prevVersion + 1
	m.sessions[next.ID] = next
	cs := model.Changeset{Sessions: []model.ParkingSession{next}}
	if next.Status.Terminal() && !cur.Status.Terminal() {
		if spot, ok := m.spots[next.SpotID]; ok && spot.OccupiedBy(next.ID) {
			spot.MarkAvailable(next.UpdatedAt)
			m.spots[spot.ID] = spot
			cs.Spots = append(cs.Spots, spot)
		}
	}
	return cs, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (model.ParkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.ParkingSession{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return s, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, q model.SessionQuery) ([]model.ParkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ParkingSession, 0)
	for _, s := range m.sessions {
		if q.Match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if q.OldestFirst {
			return out[i].EnteredAt.Before(out[j].EnteredAt)
		}
		return out[i].EnteredAt.After(out[j].EnteredAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SumPaidSince(_ context.Context, lotID string, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for _, s := range m.sessions {
		if lotID != "" && s.LotID != lotID {
			continue
		}
		if s.PaymentStatus == model.PaymentPaid && !s.CreatedAt.Before(since) {
			total += s.TotalAmount
		}
	}
	return total, nil
}

func (m *MemoryStore) CountSessionsSince(_ context.Context, lotID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if (lotID == "" || s.LotID == lotID) && !s.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ImportSession(_ context.Context, s model.ParkingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

// ---- Vehicles ----

func (m *MemoryStore) CreateVehicle(_ context.Context, v model.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[v.ID]; ok {
		return fmt.Errorf("%w: vehicle %s already exists", ErrConflict, v.ID)
	}
	if v.IsPrimary {
		m.clearPrimary(v.UserID, v.UpdatedAt)
	}
	m.vehicles[v.ID] = v
	return nil
}

func (m *MemoryStore) UpdateVehicle(_ context.Context, v model.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[v.ID]; !ok {
		return fmt.Errorf("%w: vehicle %s", ErrNotFound, v.ID)
	}
	if v.IsPrimary {
		m.clearPrimary(v.UserID, v.UpdatedAt)
	}
	m.vehicles[v.ID] = v
	return nil
}

func (m *MemoryStore) clearPrimary(userID string, now time.Time) {
	for id, v := range m.vehicles {
		if v.UserID == userID && v.IsPrimary {
			v.IsPrimary = false
			v.UpdatedAt = now
			m.vehicles[id] = v
		}
	}
}

func (m *MemoryStore) DeleteVehicle(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[id]; !ok {
		return fmt.Errorf("%w: vehicle %s", ErrNotFound, id)
	}
	delete(m.vehicles, id)
	return nil
}

func (m *MemoryStore) GetVehicle(_ context.Context, id string) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return model.Vehicle{}, fmt.Errorf("%w: vehicle %s", ErrNotFound, id)
	}
	return v, nil
}

func (m *MemoryStore) ListVehicles(_ context.Context, userID string) ([]model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Vehicle, 0)
	for _, v := range m.vehicles {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) SetPrimaryVehicle(_ context.Context, userID, vehicleID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[vehicleID]
	if !ok || v.UserID != userID {
		return fmt.Errorf("%w: vehicle %s", ErrNotFound, vehicleID)
	}
	m.clearPrimary(userID, now)
	v.IsPrimary = true
	v.UpdatedAt = now
	m.vehicles[vehicleID] = v
	return nil
}

// ---- Users ----

func (m *MemoryStore) CreateUser(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailExists
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("%w: user %s", ErrNotFound, email)
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

func (m *MemoryStore) UpdateUserName(_ context.Context, id, name string, now time.Time) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	u.Name = name
	u.UpdatedAt = now
	m.users[id] = u
	return u, nil
}

// ---- Refresh tokens ----

func (m *MemoryStore) StoreRefresh(_ context.Context, t model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.TokenHash] = t
	return nil
}

func (m *MemoryStore) ValidateRefresh(_ context.Context, tokenHash string, now time.Time) (model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if !ok || t.RevokedAt.Valid || now.After(t.ExpiresAt) {
		return model.RefreshToken{}, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}
	return t, nil
}

func (m *MemoryStore) RevokeRefresh(_ context.Context, tokenHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[tokenHash]; ok && !t.RevokedAt.Valid {
		t.RevokedAt = null.TimeFrom(now)
		m.tokens[tokenHash] = t
	}
	return nil
}

func (m *MemoryStore) RevokeSessionTokens(_ context.Context, sessionID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, t := range m.tokens {
		if t.SessionID == sessionID && !t.RevokedAt.Valid {
			t.RevokedAt = null.TimeFrom(now)
			m.tokens[h] = t
		}
	}
	return nil
}

func (m *MemoryStore) RevokeAllForUser(_ context.Context, userID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, t := range m.tokens {
		if t.UserID == userID && !t.RevokedAt.Valid {
			t.RevokedAt = null.TimeFrom(now)
			m.tokens[h] = t
		}
	}
	return nil
}
