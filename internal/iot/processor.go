package iot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/realtime"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// Gate is the slice of the service layer the processor drives.
// service.Service implements it.
type Gate interface {
	VehicleEntry(ctx context.Context, lotID, plate string, method model.EntryMethod) (model.ParkingSession, error)
	VehicleExit(ctx context.Context, lotID, plate, method string) (model.ParkingSession, error)
	LookupSession(ctx context.Context, id string) (model.ParkingSession, error)
}

// errLeft refuses a second exit for a session the barrier already let out.
var errLeft = fmt.Errorf("%w: vehicle already left through the gate", repository.ErrConflict)

// Reading is a plate read as posted by a device.
type Reading struct {
	DeviceID     string  `json:"device_id"`
	LotID        string  `json:"lot_id"`
	LicensePlate string  `json:"license_plate"`
	ImageURL     string  `json:"image_url"`
	Confidence   float64 `json:"confidence"`
}

func (r Reading) validate() error {
	if strings.TrimSpace(r.DeviceID) == "" || strings.TrimSpace(r.LotID) == "" || strings.TrimSpace(r.LicensePlate) == "" {
		return fmt.Errorf("%w: device_id, lot_id and license_plate are required", repository.ErrValidation)
	}
	return nil
}

// Processor turns gate readings into sessions and barrier commands.
type Processor struct {
	store Store
	gate  Gate
	now   func() time.Time
}

// NewProcessor wires a Processor.
func NewProcessor(store Store, gate Gate) *Processor {
	return &Processor{store: store, gate: gate, now: time.Now}
}

// Store exposes the underlying store to the prune job.
func (p *Processor) Store() Store { return p.store }

// Entry queues the reading, opens a session for the plate and tells the
// device to open the barrier. A reading the lot cannot accept is answered
// with DENY_ENTRY; only store failures are returned as errors.
func (p *Processor) Entry(ctx context.Context, in Reading) (Command, error) {
	if err := in.validate(); err != nil {
		return Command{}, err
	}
	ev, err := p.enqueue(ctx, EntryQueue, in)
	if err != nil {
		return Command{}, err
	}
	sess, err := p.gate.VehicleEntry(ctx, ev.LotID, ev.LicensePlate, model.EntryCamera)
	if err != nil {
		return p.reject(ctx, EntryQueue, ev, DenyEntry, err)
	}
	ev.SessionID, ev.SpotCode = sess.ID, sess.SpotCode
	cmd := Command{Action: OpenBarrier, Reason: "entry_approved", SessionID: sess.ID, SpotCode: sess.SpotCode}
	return p.finish(ctx, EntryQueue, ev, cmd, fmt.Sprintf("Entry processed: %s -> %s", ev.LicensePlate, sess.SpotCode))
}

// Exit queues the reading and checks the plate out. The barrier opens
// only for a paid session, and only once per session; otherwise the
// device waits for staff to confirm payment.
func (p *Processor) Exit(ctx context.Context, in Reading) (Command, error) {
	if err := in.validate(); err != nil {
		return Command{}, err
	}
	ev, err := p.enqueue(ctx, ExitQueue, in)
	if err != nil {
		return Command{}, err
	}
	sess, err := p.gate.VehicleExit(ctx, ev.LotID, ev.LicensePlate, string(model.EntryCamera))
	if err != nil {
		return p.reject(ctx, ExitQueue, ev, DenyExit, err)
	}
	cmd := Command{Action: WaitPayment, Reason: "payment_pending", SessionID: sess.ID, Amount: sess.TotalAmount}
	if sess.PaymentStatus == model.PaymentPaid {
		last, err := p.store.LastExitForSession(ctx, sess.ID)
		switch {
		case err == nil && last.Action == OpenBarrier:
			return p.reject(ctx, ExitQueue, ev, DenyExit, errLeft)
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return p.reject(ctx, ExitQueue, ev, DenyExit, err)
		}
		cmd.Action, cmd.Reason = OpenBarrier, "payment_confirmed"
	}
	ev.SessionID, ev.SpotCode, ev.Amount = sess.ID, sess.SpotCode, sess.TotalAmount
	return p.finish(ctx, ExitQueue, ev, cmd, fmt.Sprintf("Exit processed: %s, fee %.2f", ev.LicensePlate, sess.TotalAmount))
}

// NextCommand hands the device its oldest pending command.
func (p *Processor) NextCommand(ctx context.Context, deviceID string) (Command, error) {
	return p.store.NextCommand(ctx, deviceID, p.now().UTC())
}

// Prune removes stale queue items, executed commands and old logs.
func (p *Processor) Prune(ctx context.Context) (PruneResult, error) {
	return p.store.Prune(ctx, p.now().UTC())
}

// Run opens the exit barrier for sessions whose payment staff confirm
// after the car reached the exit gate. Exits still waiting for payment are
// re-checked after every (re)subscription, so a confirmation published
// while the feed was down is not lost. It returns when ctx is done.
func (p *Processor) Run(ctx context.Context, b *realtime.Broker) {
	changes, unsubscribe := b.Subscribe(realtime.Sessions, 256)
	defer func() { unsubscribe() }()
	p.resync(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				log.Printf("iot: session feed dropped, resubscribing")
				changes, unsubscribe = b.Subscribe(realtime.Sessions, 256)
				p.resync(ctx)
				continue
			}
			sess, ok := c.Doc.(model.ParkingSession)
			if !ok || !settled(sess) {
				continue
			}
			if err := p.releaseExit(ctx, sess); err != nil && !errors.Is(err, repository.ErrNotFound) {
				log.Printf("iot: release exit for session %s: %v", sess.ID, err)
			}
		}
	}
}

// resync releases the exits of the last day that are still waiting for a
// payment the session has since received.
func (p *Processor) resync(ctx context.Context) {
	waiting, err := p.store.WaitingExits(ctx, p.now().UTC().Add(-queueMaxAge))
	if err != nil {
		log.Printf("iot: resync exits: %v", err)
		return
	}
	seen := make(map[string]bool, len(waiting))
	for _, ev := range waiting {
		if seen[ev.SessionID] {
			continue
		}
		seen[ev.SessionID] = true
		sess, err := p.gate.LookupSession(ctx, ev.SessionID)
		if err != nil {
			log.Printf("iot: resync session %s: %v", ev.SessionID, err)
			continue
		}
		if !settled(sess) {
			continue
		}
		if err := p.releaseExit(ctx, sess); err != nil && !errors.Is(err, repository.ErrNotFound) {
			log.Printf("iot: release exit for session %s: %v", sess.ID, err)
		}
	}
}

// releaseExit opens the barrier at the gate where sess last waited. An
// exit already released is left alone.
func (p *Processor) releaseExit(ctx context.Context, sess model.ParkingSession) error {
	ev, err := p.store.LastExitForSession(ctx, sess.ID)
	if err != nil {
		return err
	}
	if ev.Action != WaitPayment {
		return nil
	}
	cmd := p.command(ev.DeviceID, Command{Action: OpenBarrier, Reason: "payment_confirmed", SessionID: sess.ID})
	if err := p.store.PushCommand(ctx, cmd); err != nil {
		return err
	}
	ev.Action = OpenBarrier
	if err := p.store.MarkProcessed(ctx, ExitQueue, ev); err != nil {
		return err
	}
	p.logf(ctx, LevelInfo, ev, "Exit released after payment: %s", sess.LicensePlate)
	return nil
}

func settled(sess model.ParkingSession) bool {
	return sess.Status == model.SessionCompleted && sess.PaymentStatus == model.PaymentPaid
}

func (p *Processor) enqueue(ctx context.Context, queue string, in Reading) (GateEvent, error) {
	ev := GateEvent{
		ID:           uuid.NewString(),
		DeviceID:     strings.TrimSpace(in.DeviceID),
		LotID:        strings.TrimSpace(in.LotID),
		LicensePlate: strings.ToUpper(strings.TrimSpace(in.LicensePlate)),
		ImageURL:     in.ImageURL,
		Confidence:   in.Confidence,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.store.Enqueue(ctx, queue, ev); err != nil {
		return GateEvent{}, err
	}
	return ev, nil
}

// reject answers a failed transition. Domain refusals become a deny
// command; anything else is logged, recorded on the event and returned.
func (p *Processor) reject(ctx context.Context, queue string, ev GateEvent, action Action, cause error) (Command, error) {
	ev.Processed, ev.Error, ev.ProcessedAt = true, cause.Error(), p.now().UTC()
	if !isRefusal(cause) {
		p.logf(ctx, LevelError, ev, "%s processing failed: %v", queueLabel(queue), cause)
		if err := p.store.MarkProcessed(ctx, queue, ev); err != nil {
			log.Printf("iot: mark %s %s: %v", queue, ev.ID, err)
		}
		return Command{}, cause
	}
	cmd := Command{Action: action, Reason: refusalReason(queue, cause)}
	return p.finish(ctx, queue, ev, cmd, fmt.Sprintf("%s denied: %s (%s)", queueLabel(queue), ev.LicensePlate, cmd.Reason))
}

func (p *Processor) finish(ctx context.Context, queue string, ev GateEvent, cmd Command, msg string) (Command, error) {
	cmd = p.command(ev.DeviceID, cmd)
	if err := p.store.PushCommand(ctx, cmd); err != nil {
		return Command{}, err
	}
	ev.Processed, ev.Action, ev.ProcessedAt = true, cmd.Action, p.now().UTC()
	if err := p.store.MarkProcessed(ctx, queue, ev); err != nil {
		return Command{}, err
	}
	level := LevelInfo
	if cmd.Action == DenyEntry || cmd.Action == DenyExit {
		level = LevelWarn
	}
	p.logf(ctx, level, ev, "%s", msg)
	return cmd, nil
}

func (p *Processor) command(deviceID string, cmd Command) Command {
	cmd.ID = uuid.NewString()
	cmd.DeviceID = deviceID
	cmd.CreatedAt = p.now().UTC()
	return cmd
}

func (p *Processor) logf(ctx context.Context, level Level, ev GateEvent, format string, args ...any) {
	entry := LogEntry{
		Level:        level,
		Message:      fmt.Sprintf(format, args...),
		DeviceID:     ev.DeviceID,
		LicensePlate: ev.LicensePlate,
		SessionID:    ev.SessionID,
		At:           p.now().UTC(),
	}
	if err := p.store.AppendLog(ctx, entry); err != nil {
		log.Printf("iot: append log: %v", err)
	}
}

func isRefusal(err error) bool {
	return errors.Is(err, repository.ErrConflict) ||
		errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrValidation)
}

func refusalReason(queue string, err error) string {
	switch {
	case queue == ExitQueue && errors.Is(err, repository.ErrNotFound):
		return "no active session"
	case errors.Is(err, errLeft):
		return "already exited"
	case strings.Contains(err.Error(), "no spots available"):
		return "no available spots"
	}
	return err.Error()
}

func queueLabel(queue string) string {
	if queue == EntryQueue {
		return "Entry"
	}
	return "Exit"
}
