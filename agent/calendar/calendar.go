// Package calendar books appointment slots inside business hours.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	ErrInvalidDate         = errors.New("invalid date or time")
	ErrMissingName         = errors.New("customer name is required")
	ErrClosed              = errors.New("business is closed at that time")
	ErrInPast              = errors.New("requested time is in the past")
	ErrSlotUnavailable     = errors.New("slot is already booked")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

type Config struct {
	Opens      string        `envconfig:"OPENS" split_words:"true" default:"09:00"`
	Closes     string        `envconfig:"CLOSES" split_words:"true" default:"18:00"`
	SlotLength time.Duration `envconfig:"SLOT_LENGTH" split_words:"true" default:"30m"`
	ClosedDays []string      `envconfig:"CLOSED_DAYS" split_words:"true" default:"friday,saturday"`
}

// Hours is the parsed form of Config.
type Hours struct {
	Opens      time.Duration
	Closes     time.Duration
	SlotLength time.Duration
	Closed     map[time.Weekday]bool
}

func (c Config) Hours() (Hours, error) {
	opens, err := clockOffset(c.Opens)
	if err != nil {
		return Hours{}, fmt.Errorf("calendar opens: %w", err)
	}
	closes, err := clockOffset(c.Closes)
	if err != nil {
		return Hours{}, fmt.Errorf("calendar closes: %w", err)
	}
	if closes <= opens {
		return Hours{}, fmt.Errorf("calendar closes %s must be after opens %s", c.Closes, c.Opens)
	}
	if c.SlotLength <= 0 {
		return Hours{}, errors.New("calendar slot length must be positive")
	}

	closed := make(map[time.Weekday]bool, len(c.ClosedDays))
	for _, raw := range c.ClosedDays {
		day, ok := parseWeekday(raw)
		if !ok {
			return Hours{}, fmt.Errorf("calendar closed day %q is not a weekday", raw)
		}
		closed[day] = true
	}

	return Hours{Opens: opens, Closes: closes, SlotLength: c.SlotLength, Closed: closed}, nil
}

func (c Config) Validate() error {
	_, err := c.Hours()
	return err
}

// Slots lists every slot start of the day, in loc, regardless of bookings.
func Slots(day time.Time, h Hours, loc *time.Location) []time.Time {
	y, m, d := day.In(loc).Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if h.Closed[midnight.Weekday()] {
		return nil
	}

	var out []time.Time
	for off := h.Opens; off+h.SlotLength <= h.Closes; off += h.SlotLength {
		// Date arithmetic keeps wall-clock times correct across DST changes.
		out = append(out, time.Date(y, m, d, 0, 0, 0, 0, loc).Add(off))
	}
	return out
}

// Appointment is one booking. CancelledAt is set instead of deleting rows.
type Appointment struct {
	ID          string     `json:"id"`
	StartsAt    time.Time  `json:"starts_at"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Repository stores appointments. Insert returns ErrSlotUnavailable when an
// active appointment already starts at the same instant.
type Repository interface {
	Active(ctx context.Context, from, to time.Time) ([]Appointment, error)
	Insert(ctx context.Context, a *Appointment) error
	Cancel(ctx context.Context, id string, at time.Time) (*Appointment, error)
}

type BookRequest struct {
	Date  string
	Time  string
	Name  string
	Phone string
	Notes string
}

type Service struct {
	repo     Repository
	hours    Hours
	location *time.Location
	now      func() time.Time
}

func NewService(repo Repository, hours Hours, location *time.Location) *Service {
	if location == nil {
		location = time.UTC
	}
	return &Service{repo: repo, hours: hours, location: location, now: time.Now}
}

// Available returns the free slot start times ("15:04") for date ("2006-01-02").
func (s *Service) Available(ctx context.Context, date string) ([]string, error) {
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	slots := Slots(day, s.hours, s.location)
	if len(slots) == 0 {
		return []string{}, nil
	}

	booked, err := s.repo.Active(ctx, slots[0], slots[len(slots)-1].Add(s.hours.SlotLength))
	if err != nil {
		return nil, fmt.Errorf("calendar: list appointments: %w", err)
	}
	taken := make(map[int64]bool, len(booked))
	for _, a := range booked {
		taken[a.StartsAt.Unix()] = true
	}

	now := s.now()
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		if taken[slot.Unix()] || !slot.After(now) {
			continue
		}
		out = append(out, slot.Format(TimeLayout))
	}
	return out, nil
}

func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrMissingName
	}
	startsAt, err := time.ParseInLocation(DateLayout+" "+TimeLayout,
		strings.TrimSpace(req.Date)+" "+strings.TrimSpace(req.Time), s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: %q %q", ErrInvalidDate, req.Date, req.Time)
	}
	if !s.isSlot(startsAt) {
		return nil, fmt.Errorf("%w: %s", ErrClosed, startsAt.Format(DateLayout+" "+TimeLayout))
	}
	if !startsAt.After(s.now()) {
		return nil, ErrInPast
	}

	a := &Appointment{
		ID:        uuid.NewString(),
		StartsAt:  startsAt,
		Name:      strings.TrimSpace(req.Name),
		Phone:     strings.TrimSpace(req.Phone),
		Notes:     strings.TrimSpace(req.Notes),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Insert(ctx, a); err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("calendar: insert appointment: %w", err)
	}
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (*Appointment, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrAppointmentNotFound, id)
	}
	a, err := s.repo.Cancel(ctx, id, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("calendar: cancel appointment: %w", err)
	}
	return a, nil
}

// IsUserError reports whether err is caused by the request rather than the
// storage behind the calendar.
func IsUserError(err error) bool {
	for _, target := range []error{ErrInvalidDate, ErrMissingName, ErrClosed, ErrInPast, ErrSlotUnavailable, ErrAppointmentNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Service) isSlot(t time.Time) bool {
	for _, slot := range Slots(t, s.hours, s.location) {
		if slot.Equal(t) {
			return true
		}
	}
	return false
}

func clockOffset(raw string) (time.Duration, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func parseWeekday(raw string) (time.Weekday, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || (len(name) >= 3 && strings.HasPrefix(full, name)) {
			return d, true
		}
	}
	return 0, false
}

// MemoryRepository keeps appointments in memory. Used when no database is
// configured and in tests.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[string]*Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: map[string]*Appointment{}}
}

func (r *MemoryRepository) lock() func() {
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *MemoryRepository) Active(_ context.Context, from, to time.Time) ([]Appointment, error) {
	defer r.lock()()
	var out []Appointment
	for _, a := range r.items {
		if a.CancelledAt == nil && !a.StartsAt.Before(from) && a.StartsAt.Before(to) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (r *MemoryRepository) Insert(_ context.Context, a *Appointment) error {
	defer r.lock()()
	for _, existing := range r.items {
		if existing.CancelledAt == nil && existing.StartsAt.Equal(a.StartsAt) {
			return ErrSlotUnavailable
		}
	}
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *MemoryRepository) Cancel(_ context.Context, id string, at time.Time) (*Appointment, error) {
	defer r.lock()()
	a, ok := r.items[id]
	if !ok || a.CancelledAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
	}
	a.CancelledAt = &at
	cp := *a
	return &cp, nil
}
