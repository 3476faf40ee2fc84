package prompt

import (
	"context"
	"strings"
	"testing"
	"time"

	personax "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/persona"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	builder, err := NewBuilder(time.FixedZone("IDT", 3*60*60))
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	return builder
}

func TestLoadPromptSet(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	if set.System == "" || set.PersonaKnown == "" || set.PersonaUnknown == "" {
		t.Fatalf("prompt set has empty members: %#v", set)
	}
}

func TestBuildUnknownPersonaAsksForMarker(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)
	now := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

	out, err := builder.Build(context.Background(), Input{Context: "Opening hours: Sun-Thu 09:00-18:00", Now: now})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(out, "[GENDER: male]") || !strings.Contains(out, "[GENDER: female]") {
		t.Fatalf("expected marker instruction, got:\n%s", out)
	}
	if !strings.Contains(out, "Opening hours: Sun-Thu 09:00-18:00") {
		t.Fatalf("expected context in prompt, got:\n%s", out)
	}
	// 09:30 UTC rendered in the configured zone.
	if !strings.Contains(out, "19/10/2026 12:30") {
		t.Fatalf("expected local clock, got:\n%s", out)
	}
	if strings.Contains(out, "{context}") || strings.Contains(out, "{now}") {
		t.Fatalf("unrendered placeholder in:\n%s", out)
	}
}

func TestBuildKnownPersona(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)
	out, err := builder.Build(context.Background(), Input{Persona: personax.Female, Now: time.Now()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(out, "The customer is female.") {
		t.Fatalf("expected persona guidance, got:\n%s", out)
	}
	if strings.Contains(out, "[GENDER:") {
		t.Fatalf("marker instruction must be omitted once persona is known:\n%s", out)
	}
	if !strings.Contains(out, emptyContext) {
		t.Fatalf("expected empty-context placeholder, got:\n%s", out)
	}
}

func TestBuildKeepsBracesInContext(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)
	out, err := builder.Build(context.Background(), Input{Context: `price list {"basic": 100}`, Now: time.Now()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(out, `{"basic": 100}`) {
		t.Fatalf("context braces were altered:\n%s", out)
	}
}

func TestBuildIncludesCustomerName(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)
	out, err := builder.Build(context.Background(), Input{CustomerName: "Dana", Persona: personax.Female, Now: time.Now()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(out, "The customer's name is Dana.") {
		t.Fatalf("expected customer name, got:\n%s", out)
	}
}
