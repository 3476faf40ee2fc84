package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	personax "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/persona"
)

var (
	//go:embed template/system.txt
	systemRaw string

	//go:embed template/persona_known.txt
	personaKnownRaw string

	//go:embed template/persona_unknown.txt
	personaUnknownRaw string
)

const (
	emptyContext   = "(no knowledge passages available)"
	nowLayout      = "Monday 02/01/2006 15:04"
	defaultTZ      = "Asia/Jerusalem"
	maxContextRune = 12000
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	System         string
	PersonaKnown   string
	PersonaUnknown string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		System:         strings.TrimSpace(systemRaw),
		PersonaKnown:   strings.TrimSpace(personaKnownRaw),
		PersonaUnknown: strings.TrimSpace(personaUnknownRaw),
	}
}

// Input is everything the system instruction depends on.
type Input struct {
	Context      string
	Persona      personax.Persona
	CustomerName string
	Now          time.Time
}

// Builder renders the system instruction. The clock is always rendered in
// the configured zone, never the host's.
type Builder struct {
	system   einoprompt.ChatTemplate
	persona  einoprompt.ChatTemplate
	unknown  string
	location *time.Location
}

func NewBuilder(location *time.Location) (*Builder, error) {
	set := LoadPromptSet()
	if set.System == "" {
		return nil, fmt.Errorf("%w: system prompt", contractx.ErrPromptMissing)
	}
	if location == nil {
		loc, err := time.LoadLocation(defaultTZ)
		if err != nil {
			return nil, fmt.Errorf("load default time zone: %w", err)
		}
		location = loc
	}

	return &Builder{
		system:   einoprompt.FromMessages(schema.FString, schema.SystemMessage(set.System)),
		persona:  einoprompt.FromMessages(schema.FString, schema.SystemMessage(set.PersonaKnown)),
		unknown:  set.PersonaUnknown,
		location: location,
	}, nil
}

func (b *Builder) Location() *time.Location {
	return b.location
}

func (b *Builder) Build(ctx context.Context, in Input) (string, error) {
	guidance := b.unknown
	if in.Persona != personax.None {
		rendered, err := render(ctx, b.persona, map[string]any{"persona": in.Persona.String()})
		if err != nil {
			return "", err
		}
		guidance = rendered
	}
	if name := strings.TrimSpace(in.CustomerName); name != "" {
		guidance += "\nThe customer's name is " + name + "."
	}

	knowledge := strings.TrimSpace(in.Context)
	if knowledge == "" {
		knowledge = emptyContext
	}
	if r := []rune(knowledge); len(r) > maxContextRune {
		knowledge = string(r[:maxContextRune])
	}

	return render(ctx, b.system, map[string]any{
		"now":              b.FormatNow(in.Now),
		"persona_guidance": guidance,
		"context":          knowledge,
	})
}

// FormatNow renders t in the builder's zone, zone name included.
func (b *Builder) FormatNow(t time.Time) string {
	local := t.In(b.location)
	return fmt.Sprintf("%s (%s)", local.Format(nowLayout), b.location.String())
}

func render(ctx context.Context, tpl einoprompt.ChatTemplate, vars map[string]any) (string, error) {
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%w: format prompt: %v", contractx.ErrPromptMissing, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%w: prompt rendered empty", contractx.ErrPromptMissing)
	}
	return msgs[0].Content, nil
}
