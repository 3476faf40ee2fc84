package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	postgresx "github.com/tanpawarit/Chative-Omnichannel-Concierge/pkg/postgres"
)

type appointmentRow struct {
	bun.BaseModel `bun:"table:appointments,alias:a"`

	ID          string     `bun:"id,pk,type:uuid"`
	StartsAt    time.Time  `bun:"starts_at,notnull"`
	Name        string     `bun:"name,notnull"`
	Phone       string     `bun:"phone,notnull,default:''"`
	Notes       string     `bun:"notes,notnull,default:''"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	CancelledAt *time.Time `bun:"cancelled_at,nullzero"`
}

func (r appointmentRow) toAppointment() Appointment {
	return Appointment{
		ID:          r.ID,
		StartsAt:    r.StartsAt,
		Name:        r.Name,
		Phone:       r.Phone,
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt,
		CancelledAt: r.CancelledAt,
	}
}

// BunRepository stores appointments in PostgreSQL. Only one active
// appointment may start at a given instant; cancelled rows free the slot.
type BunRepository struct {
	db bun.IDB
}

var _ Repository = (*BunRepository)(nil)

func NewBunRepository(db bun.IDB) *BunRepository {
	return &BunRepository{db: db}
}

// Migration creates the appointments table and its partial unique index.
func Migration() postgresx.Migration {
	return postgresx.Migration{
		Name: "calendar.appointments",
		Up: func(ctx context.Context, db bun.IDB) error {
			if _, err := db.NewCreateTable().Model((*appointmentRow)(nil)).IfNotExists().Exec(ctx); err != nil {
				return err
			}
			_, err := db.NewCreateIndex().
				Model((*appointmentRow)(nil)).
				Index("appointments_active_starts_at_key").
				Unique().
				IfNotExists().
				Column("starts_at").
				Where("cancelled_at IS NULL").
				Exec(ctx)
			return err
		},
	}
}

func (r *BunRepository) Active(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	var rows []appointmentRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("a.cancelled_at IS NULL").
		Where("a.starts_at >= ?", from).
		Where("a.starts_at < ?", to).
		Order("a.starts_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Appointment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toAppointment())
	}
	return out, nil
}

func (r *BunRepository) Insert(ctx context.Context, a *Appointment) error {
	row := &appointmentRow{
		ID:        a.ID,
		StartsAt:  a.StartsAt,
		Name:      a.Name,
		Phone:     a.Phone,
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if postgresx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrSlotUnavailable, a.StartsAt.Format(time.RFC3339))
		}
		return err
	}
	return nil
}

func (r *BunRepository) Cancel(ctx context.Context, id string, at time.Time) (*Appointment, error) {
	row := new(appointmentRow)
	err := r.db.NewUpdate().
		Model(row).
		Set("cancelled_at = ?", at).
		Where("a.id = ?", id).
		Where("a.cancelled_at IS NULL").
		Returning("*").
		Scan(ctx)
	if err != nil {
		if postgresx.IsNoRows(err) {
			return nil, fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
		}
		return nil, err
	}
	a := row.toAppointment()
	return &a, nil
}
