package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	personax "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/persona"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = errors.New("session id is empty")
	ErrInvalidChannel = errors.New("channel is unknown")
)

type GraphInput struct {
	Message   string
	SessionID string
	Channel   statex.Channel
	Phone     string
}

// GraphState is threaded through one processing cycle.
type GraphState struct {
	Message   string
	SessionID string
	Channel   statex.Channel
	Phone     string
	Now       time.Time

	History  []statex.Turn
	Persona  personax.Persona
	Customer *contractx.Customer
	Context  string

	SystemInstruction string
	Response          contractx.GenerateResponse
}

// ValidateSession returns the trimmed session id once both it and the
// channel are usable.
func ValidateSession(sessionID string, channel statex.Channel) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrInvalidSession
	}
	if !channel.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	return sessionID, nil
}

func ValidateRequest(in GraphInput, now func() time.Time) (*GraphState, error) {
	sessionID, err := ValidateSession(in.SessionID, in.Channel)
	if err != nil {
		return nil, err
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		Message:   message,
		SessionID: sessionID,
		Channel:   in.Channel,
		Phone:     strings.TrimSpace(in.Phone),
		Now:       now(),
	}, nil
}
