package crm

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	personax "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/persona"
)

type customerRecord struct {
	Phone  string `yaml:"phone"`
	Name   string `yaml:"name"`
	Gender string `yaml:"gender"`
}

// LoadCustomersFile reads a YAML sequence of customers with phone, name and
// an optional gender.
func LoadCustomersFile(path string) ([]contractx.Customer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crm: read customers: %w", err)
	}
	var records []customerRecord
	if err := yaml.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("crm: parse customers: %w", err)
	}

	out := make([]contractx.Customer, 0, len(records))
	for i, r := range records {
		phone := NormalizePhone(r.Phone)
		if phone == "" {
			return nil, fmt.Errorf("crm: customer %d has no phone", i)
		}
		p, _ := personax.Parse(r.Gender)
		out = append(out, contractx.Customer{Phone: phone, Name: r.Name, Persona: p})
	}
	return out, nil
}

// Seed upserts every customer.
func (d *Directory) Seed(ctx context.Context, customers []contractx.Customer) error {
	for _, c := range customers {
		if err := d.Upsert(ctx, c); err != nil {
			return fmt.Errorf("crm: seed %s: %w", c.Phone, err)
		}
	}
	return nil
}
