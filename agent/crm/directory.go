// Package crm resolves phone numbers to known customers.
package crm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	personax "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/persona"
	postgresx "github.com/tanpawarit/Chative-Omnichannel-Concierge/pkg/postgres"
)

// NormalizePhone reduces an address to "+" followed by digits. It drops
// channel prefixes such as "whatsapp:" and "sms:" and any separators.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	var b strings.Builder
	b.Grow(len(s) + 1)
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
	}
	if digits == "" {
		return ""
	}
	return "+" + digits
}

type customerRow struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	Phone  string `bun:"phone,pk"`
	Name   string `bun:"name,notnull"`
	Gender string `bun:"gender,notnull,default:''"`
}

func (r customerRow) toCustomer() *contractx.Customer {
	p, _ := personax.Parse(r.Gender)
	return &contractx.Customer{Phone: r.Phone, Name: r.Name, Persona: p}
}

// Directory looks customers up in PostgreSQL.
type Directory struct {
	db bun.IDB
}

var _ contractx.CustomerDirectory = (*Directory)(nil)

func NewDirectory(db bun.IDB) *Directory {
	return &Directory{db: db}
}

func Migration() postgresx.Migration {
	return postgresx.Migration{
		Name: "crm.customers",
		Up: func(ctx context.Context, db bun.IDB) error {
			_, err := db.NewCreateTable().Model((*customerRow)(nil)).IfNotExists().Exec(ctx)
			return err
		},
	}
}

func (d *Directory) Lookup(ctx context.Context, phone string) (*contractx.Customer, error) {
	key := NormalizePhone(phone)
	if key == "" {
		return nil, fmt.Errorf("%w: empty phone", contractx.ErrCustomerNotFound)
	}

	row := new(customerRow)
	err := d.db.NewSelect().Model(row).Where("c.phone = ?", key).Limit(1).Scan(ctx)
	if err != nil {
		if postgresx.IsNoRows(err) {
			return nil, fmt.Errorf("%w: %s", contractx.ErrCustomerNotFound, key)
		}
		return nil, fmt.Errorf("crm: lookup %s: %w", key, err)
	}
	return row.toCustomer(), nil
}

// Upsert stores or replaces a customer record.
func (d *Directory) Upsert(ctx context.Context, c contractx.Customer) error {
	row := &customerRow{Phone: NormalizePhone(c.Phone), Name: strings.TrimSpace(c.Name), Gender: c.Persona.String()}
	if row.Phone == "" {
		return fmt.Errorf("%w: customer phone is required", contractx.ErrValidation)
	}
	_, err := d.db.NewInsert().
		Model(row).
		On("CONFLICT (phone) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("gender = EXCLUDED.gender").
		Exec(ctx)
	return err
}

// MemoryDirectory is a fixed in-process directory.
type MemoryDirectory struct {
	mu        sync.RWMutex
	customers map[string]contractx.Customer
}

var _ contractx.CustomerDirectory = (*MemoryDirectory)(nil)

func NewMemoryDirectory(customers ...contractx.Customer) *MemoryDirectory {
	d := &MemoryDirectory{customers: make(map[string]contractx.Customer, len(customers))}
	for _, c := range customers {
		c.Phone = NormalizePhone(c.Phone)
		d.customers[c.Phone] = c
	}
	return d
}

func (d *MemoryDirectory) Lookup(_ context.Context, phone string) (*contractx.Customer, error) {
	key := NormalizePhone(phone)
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrCustomerNotFound, key)
	}
	return &c, nil
}
