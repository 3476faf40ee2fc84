package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	calendarx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/calendar"
	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

// Executor runs one tool. A returned error means the infrastructure behind
// the tool failed; problems with the call itself go into ToolResult.Error.
type Executor func(ctx context.Context, tool string, args map[string]any) (statex.ToolResult, error)

type Calendar interface {
	Available(ctx context.Context, date string) ([]string, error)
	Book(ctx context.Context, req calendarx.BookRequest) (*calendarx.Appointment, error)
	Cancel(ctx context.Context, id string) (*calendarx.Appointment, error)
}

type Registry struct {
	tools     []*schema.ToolInfo
	executors map[string]Executor
}

var _ contractx.ToolRegistry = (*Registry)(nil)

// NewRegistry wires the catalog to its backends. A nil backend leaves its
// tools declared but answering with an unavailable error.
func NewRegistry(cal Calendar, directory contractx.CustomerDirectory) *Registry {
	r := &Registry{
		tools:     Catalog(),
		executors: make(map[string]Executor, 5),
	}
	if cal != nil {
		r.executors[NameCheckAvailability] = checkAvailability(cal)
		r.executors[NameBookAppointment] = bookAppointment(cal)
		r.executors[NameCancelAppointment] = cancelAppointment(cal)
	}
	if directory != nil {
		r.executors[NameLookupCustomer] = lookupCustomer(directory)
	}
	r.executors[NameTransferToSupport] = transferToSupport
	return r
}

func (r *Registry) Tools() []*schema.ToolInfo {
	return r.tools
}

func (r *Registry) Invoke(ctx context.Context, call statex.ToolCall) (statex.ToolResult, error) {
	exec, ok := r.executors[call.Name]
	if !ok {
		exec = DefaultExecutor(r.declared(call.Name))
	}

	result, err := exec(ctx, call.Name, call.Args)
	if err != nil {
		return statex.ToolResult{}, fmt.Errorf("%w: %s: %v", contractx.ErrToolInvoke, call.Name, err)
	}
	result.CallID = call.ID
	result.Name = call.Name
	if result.Error != "" {
		log.Ctx(ctx).Info().Str("tool", call.Name).Str("tool_error", result.Error).Msg("tool returned error to model")
	}
	return result, nil
}

func (r *Registry) declared(name string) bool {
	for _, t := range r.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// DefaultExecutor answers calls that have no backend.
func DefaultExecutor(declared bool) Executor {
	return func(_ context.Context, tool string, _ map[string]any) (statex.ToolResult, error) {
		if declared {
			return statex.ToolResult{Error: fmt.Sprintf("tool=%s is temporarily unavailable", tool)}, nil
		}
		return statex.ToolResult{Error: fmt.Sprintf("unknown tool=%s", tool)}, nil
	}
}

type AvailabilityOutput struct {
	Date      string   `json:"date"`
	FreeSlots []string `json:"free_slots"`
}

type AppointmentOutput struct {
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Name          string `json:"name"`
	Status        string `json:"status"`
}

type CustomerOutput struct {
	Found  bool   `json:"found"`
	Name   string `json:"name,omitempty"`
	Gender string `json:"gender,omitempty"`
}

type TransferOutput struct {
	Transferred bool   `json:"transferred"`
	Reason      string `json:"reason,omitempty"`
}

func checkAvailability(cal Calendar) Executor {
	return func(ctx context.Context, _ string, args map[string]any) (statex.ToolResult, error) {
		date, err := stringArg(args, "date", true)
		if err != nil {
			return statex.ToolResult{Error: err.Error()}, nil
		}
		slots, err := cal.Available(ctx, date)
		if err != nil {
			return calendarFailure(err)
		}
		return statex.ToolResult{Output: AvailabilityOutput{Date: date, FreeSlots: slots}}, nil
	}
}

func bookAppointment(cal Calendar) Executor {
	return func(ctx context.Context, _ string, args map[string]any) (statex.ToolResult, error) {
		var req calendarx.BookRequest
		var err error
		if req.Date, err = stringArg(args, "date", true); err != nil {
			return statex.ToolResult{Error: err.Error()}, nil
		}
		if req.Time, err = stringArg(args, "time", true); err != nil {
			return statex.ToolResult{Error: err.Error()}, nil
		}
		if req.Name, err = stringArg(args, "name", true); err != nil {
			return statex.ToolResult{Error: err.Error()}, nil
		}
		req.Phone, _ = stringArg(args, "phone", false)
		req.Notes, _ = stringArg(args, "notes", false)

		appt, err := cal.Book(ctx, req)
		if err != nil {
			return calendarFailure(err)
		}
		return statex.ToolResult{Output: AppointmentOutput{
			AppointmentID: appt.ID,
			Date:          req.Date,
			Time:          req.Time,
			Name:          appt.Name,
			Status:        "booked",
		}}, nil
	}
}

func cancelAppointment(cal Calendar) Executor {
	return func(ctx context.Context, _ string, args map[string]any) (statex.ToolResult, error) {
		id, err := stringArg(args, "appointment_id", true)
		if err != nil {
			return statex.ToolResult{Error: err.Error()}, nil
		}
		appt, err := cal.Cancel(ctx, id)
		if err != nil {
			return calendarFailure(err)
		}
		return statex.ToolResult{Output: AppointmentOutput{
			AppointmentID: appt.ID,
			Date:          appt.StartsAt.Format(calendarx.DateLayout),
			Time:          appt.StartsAt.Format(calendarx.TimeLayout),
			Name:          appt.Name,
			Status:        "cancelled",
		}}, nil
	}
}

func lookupCustomer(directory contractx.CustomerDirectory) Executor {
	return func(ctx context.Context, _ string, args map[string]any) (statex.ToolResult, error) {
		phone, err := stringArg(args, "phone", true)
		if err != nil {
			return statex.ToolResult{Error: err.Error()}, nil
		}
		customer, err := directory.Lookup(ctx, phone)
		if errors.Is(err, contractx.ErrCustomerNotFound) {
			return statex.ToolResult{Output: CustomerOutput{Found: false}}, nil
		}
		if err != nil {
			return statex.ToolResult{}, err
		}
		return statex.ToolResult{Output: CustomerOutput{
			Found:  true,
			Name:   customer.Name,
			Gender: customer.Persona.String(),
		}}, nil
	}
}

func transferToSupport(_ context.Context, _ string, args map[string]any) (statex.ToolResult, error) {
	reason, _ := stringArg(args, "reason", false)
	return statex.ToolResult{Output: TransferOutput{Transferred: true, Reason: reason}}, nil
}

func calendarFailure(err error) (statex.ToolResult, error) {
	if calendarx.IsUserError(err) {
		return statex.ToolResult{Error: err.Error()}, nil
	}
	return statex.ToolResult{}, err
}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		if required {
			return "", fmt.Errorf("%s is required", key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" && required {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}
