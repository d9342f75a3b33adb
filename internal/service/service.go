// Package service implements the parking use cases on top of a Store. Each
// method validates its input, runs one atomic store transition and then
// publishes the resulting Changeset to the realtime broker and a domain
// event to the message queue. Callers pass an identity.Session for every
// operation that acts on behalf of a user.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/realtime"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// EventPublisher receives domain events after a transition commits.
// queue.Publisher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.Event) error
}

// Options carries the tunables the use cases need from configuration.
type Options struct {
	JWTSecret        string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	BcryptCost       int
	Location         *time.Location // "today" for dashboards; nil means UTC
	AllowStaffSignup bool
}

// Service is the use-case layer shared by the HTTP handlers, the IoT
// processor and the scheduled jobs.
type Service struct {
	store    Store
	broker   *realtime.Broker
	ids      *identity.Manager
	events   EventPublisher
	validate *validator.Validate
	opts     Options
	now      func() time.Time
}

// New wires a Service. events may be nil to disable domain events.
func New(store Store, broker *realtime.Broker, ids *identity.Manager, events EventPublisher, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = 10
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		store:    store,
		broker:   broker,
		ids:      ids,
		events:   events,
		validate: v,
		opts:     opts,
		now:      time.Now,
	}
}

// Identity exposes the session manager to the transport layer.
func (s *Service) Identity() *identity.Manager { return s.ids }

// Broker exposes the realtime broker to the transport layer.
func (s *Service) Broker() *realtime.Broker { return s.broker }

// Location is the configured business timezone.
func (s *Service) Location() *time.Location { return s.opts.Location }

func (s *Service) clock() time.Time { return s.now().UTC() }

// check runs struct validation and maps failures onto ErrValidation,
// naming the offending fields by their JSON names.
func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: invalid %s", repository.ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", repository.ErrValidation, err)
}

// commit fans out a committed transition. Event publishing is best effort
// and detached from the request's cancellation.
func (s *Service) commit(ctx context.Context, cs model.Changeset, evs ...queue.Event) {
	if s.broker != nil {
		s.broker.PublishChangeset(cs)
	}
	if s.events == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ev := range evs {
		if ev.OccurredAt == "" {
			ev.OccurredAt = s.clock().Format(time.RFC3339)
		}
		if err := s.events.Publish(ctx, ev); err != nil {
			log.Printf("events: publish %s: %v", ev.Type, err)
		}
	}
}

func requireStaff(who identity.Session) error {
	if !who.IsStaff() {
		return fmt.Errorf("%w: staff only", repository.ErrForbidden)
	}
	return nil
}

func requireOwner(who identity.Session, ownerID string) error {
	if !who.Owns(ownerID) {
		return fmt.Errorf("%w: not your resource", repository.ErrForbidden)
	}
	return nil
}

func normalizePlate(p string) string {
	return strings.ToUpper(strings.TrimSpace(p))
}
