package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Channel is the transport a session was opened on. It is fixed at creation.
type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelChat  Channel = "chat"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelVoice, ChannelChat, ChannelSMS:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// AttrPersona holds the inferred grammatical persona ("male" or "female").
const AttrPersona = "persona"

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ArgsJSON renders the arguments the way model providers expect them.
func (c ToolCall) ArgsJSON() string {
	if len(c.Args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(c.Args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// ToolResult is what a tool produced for a ToolCall. Error carries a
// tool-level failure that is reported back to the model.
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Content is the textual form of the result handed to the model.
func (r ToolResult) Content() string {
	if r.Error != "" {
		raw, _ := json.Marshal(map[string]string{"error": r.Error})
		return string(raw)
	}
	switch v := r.Output.(type) {
	case nil:
		return "{}"
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}

// Turn is one entry of the conversation history. A tool interaction is stored
// as two turns: a model turn carrying Call and a tool turn carrying Result.
type Turn struct {
	Role      Role        `json:"role"`
	Text      string      `json:"text,omitempty"`
	Call      *ToolCall   `json:"call,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func UserTurn(text string, now time.Time) Turn {
	return Turn{Role: RoleUser, Text: text, CreatedAt: now.UTC()}
}

func ModelTurn(text string, now time.Time) Turn {
	return Turn{Role: RoleModel, Text: text, CreatedAt: now.UTC()}
}

// ToolInteraction returns the paired request/result turns for one tool call.
func ToolInteraction(call ToolCall, result ToolResult, now time.Time) []Turn {
	c := call
	r := result
	if r.CallID == "" {
		r.CallID = c.ID
	}
	if r.Name == "" {
		r.Name = c.Name
	}
	return []Turn{
		{Role: RoleModel, Call: &c, CreatedAt: now.UTC()},
		{Role: RoleTool, Result: &r, CreatedAt: now.UTC()},
	}
}

// Session is the persisted conversation for one (channel, counterpart) pair.
type Session struct {
	ID         string            `json:"id"`
	Channel    Channel           `json:"channel"`
	History    []Turn            `json:"history,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNilSession      = errors.New("session is nil")
	ErrInvalidSession  = errors.New("session id is empty")
	ErrEmptyTurn       = errors.New("turn is empty")
)

func NewSession(id string, channel Channel, now time.Time) *Session {
	return &Session{
		ID:         id,
		Channel:    channel,
		Attributes: make(map[string]string, 2),
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
}

func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *Session) EnsureAttributes() {
	if s.Attributes == nil {
		s.Attributes = make(map[string]string, 2)
	}
}

// Append adds turns in order. History is append-only.
func (s *Session) Append(now time.Time, turns ...Turn) error {
	if s == nil {
		return ErrNilSession
	}
	for _, t := range turns {
		if t.Role == "" || (t.Text == "" && t.Call == nil && t.Result == nil) {
			return ErrEmptyTurn
		}
	}
	s.History = append(s.History, turns...)
	s.Touch(now)
	return nil
}

func (s *Session) Attribute(key string) string {
	if s == nil || s.Attributes == nil {
		return ""
	}
	return s.Attributes[key]
}

func (s *Session) SetAttribute(key, value string, now time.Time) {
	s.EnsureAttributes()
	s.Attributes[key] = value
	s.Touch(now)
}

// HistorySnapshot returns a copy that callers may keep without aliasing.
func (s *Session) HistorySnapshot() []Turn {
	if s == nil || len(s.History) == 0 {
		return nil
	}
	out := make([]Turn, len(s.History))
	copy(out, s.History)
	return out
}

func (s *Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrInvalidSession
	}
	if !s.Channel.Valid() {
		return fmt.Errorf("session %s has unknown channel %q", s.ID, s.Channel)
	}
	for i, t := range s.History {
		if t.Role == RoleTool && t.Result == nil {
			return fmt.Errorf("session %s turn %d: tool turn without result", s.ID, i)
		}
	}
	return nil
}
