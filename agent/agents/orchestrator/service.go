package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	nodex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/nodes/orchestrator"
	promptx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/prompt"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
	toolx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/tool"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
	ErrInvalidChannel = nodex.ErrInvalidChannel
	ErrNoToolCalls    = errors.New("no tool calls to resolve")
	ErrPanic          = errors.New("orchestrator panic")
)

type Config struct {
	RetrievalK    int    `envconfig:"RETRIEVAL_K" split_words:"true" default:"3"`
	TimeZone      string `envconfig:"TIME_ZONE" split_words:"true" default:"Asia/Jerusalem"`
	MaxToolRounds int    `envconfig:"MAX_TOOL_ROUNDS" split_words:"true" default:"1"`
	HandoffTool   string `envconfig:"HANDOFF_TOOL" split_words:"true" default:"transfer_to_support"`

	StoreTimeout     time.Duration `envconfig:"STORE_TIMEOUT" split_words:"true" default:"5s"`
	RetrievalTimeout time.Duration `envconfig:"RETRIEVAL_TIMEOUT" split_words:"true" default:"4s"`
	DirectoryTimeout time.Duration `envconfig:"DIRECTORY_TIMEOUT" split_words:"true" default:"3s"`
	ModelTimeout     time.Duration `envconfig:"MODEL_TIMEOUT" split_words:"true" default:"30s"`
	ToolTimeout      time.Duration `envconfig:"TOOL_TIMEOUT" split_words:"true" default:"10s"`
}

func (c Config) Validate() error {
	if c.RetrievalK < 0 {
		return fmt.Errorf("%w: retrieval k must be >= 0", contractx.ErrValidation)
	}
	if c.MaxToolRounds < 0 {
		return fmt.Errorf("%w: max tool rounds must be >= 0", contractx.ErrValidation)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	return nil
}

func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.TimeZone)
	if name == "" {
		name = "Asia/Jerusalem"
	}
	return time.LoadLocation(name)
}

func (c Config) Timeouts() nodex.Timeouts {
	return nodex.Timeouts{
		Store:     c.StoreTimeout,
		Retrieval: c.RetrievalTimeout,
		Directory: c.DirectoryTimeout,
		Model:     c.ModelTimeout,
		Tool:      c.ToolTimeout,
	}
}

// Deps are the collaborators of the orchestrator. Retriever and Directory
// are optional.
type Deps struct {
	Store     statex.Store
	Retriever contractx.ContextRetriever
	Directory contractx.CustomerDirectory
	Tools     contractx.ToolRegistry
	Model     contractx.ModelGateway
	Formatter contractx.ReplyFormatter
	Prompt    *promptx.Builder
}

type Orchestrator struct {
	deps Deps

	graphRunner compose.Runnable[nodex.GraphInput, contractx.Result]

	retrievalK    int
	maxToolRounds int
	handoffTool   string
	timeouts      nodex.Timeouts

	locks *statex.KeyedMutex
	now   func() time.Time
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("tool registry is required")
	}
	if deps.Model == nil {
		return nil, errors.New("model gateway is required")
	}
	if deps.Formatter == nil {
		return nil, errors.New("reply formatter is required")
	}
	if deps.Prompt == nil {
		return nil, errors.New("prompt builder is required")
	}

	k := cfg.RetrievalK
	if k <= 0 {
		k = 3
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = 1
	}
	handoff := strings.TrimSpace(cfg.HandoffTool)
	if handoff == "" {
		handoff = toolx.NameTransferToSupport
	}

	o := &Orchestrator{
		deps:          deps,
		retrievalK:    k,
		maxToolRounds: rounds,
		handoffTool:   handoff,
		timeouts:      cfg.Timeouts(),
		locks:         statex.NewKeyedMutex(),
		now:           time.Now,
	}

	graphRunner, err := o.compileProcessGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// Process handles one inbound message. It never returns an error: failures
// come back as the channel's fallback reply with Err set.
func (o *Orchestrator) Process(ctx context.Context, message, sessionID string, channel statex.Channel, phone string) (res contractx.Result) {
	sessionID = strings.TrimSpace(sessionID)
	ctx = o.cycleContext(ctx, "process", sessionID, channel)
	defer o.recoverInto(ctx, channel, &res)

	unlock := o.lock(sessionID)
	defer unlock()

	started := o.now()
	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		Message:   message,
		SessionID: sessionID,
		Channel:   channel,
		Phone:     phone,
	})
	if err != nil {
		return o.fallback(ctx, channel, err)
	}

	log.Ctx(ctx).Info().
		Dur("elapsed", o.now().Sub(started)).
		Bool("requires_tool_call", out.RequiresToolCall).
		Bool("transfer", out.TransferToOperator).
		Msg("message processed")
	return out
}

// ResolveTools runs tool calls deferred by a voice cycle and produces the
// follow-up reply.
func (o *Orchestrator) ResolveTools(ctx context.Context, calls []statex.ToolCall, sessionID string, channel statex.Channel) (res contractx.Result) {
	sessionID = strings.TrimSpace(sessionID)
	ctx = o.cycleContext(ctx, "resolve_tools", sessionID, channel)
	defer o.recoverInto(ctx, channel, &res)

	sessionID, err := nodex.ValidateSession(sessionID, channel)
	if err != nil {
		return o.fallback(ctx, channel, err)
	}
	if len(calls) == 0 {
		return o.fallback(ctx, channel, ErrNoToolCalls)
	}

	unlock := o.lock(sessionID)
	defer unlock()

	out, err := o.resolveTools(ctx, sessionID, channel, calls)
	if err != nil {
		return o.fallback(ctx, channel, err)
	}
	return out
}

func (o *Orchestrator) lock(sessionID string) func() {
	return o.locks.Lock(sessionID)
}

func (o *Orchestrator) cycleContext(ctx context.Context, op, sessionID string, channel statex.Channel) context.Context {
	logger := log.With().
		Str("component", "orchestrator").
		Str("op", op).
		Str("session_id", sessionID).
		Str("channel", string(channel)).
		Logger()
	return logger.WithContext(ctx)
}

func (o *Orchestrator) fallback(ctx context.Context, channel statex.Channel, err error) contractx.Result {
	log.Ctx(ctx).Error().Err(err).Msg("cycle failed, replying with fallback")
	return contractx.Result{
		Text: o.deps.Formatter.FixedMessage(contractx.MessageAPIError, channel),
		Err:  err,
	}
}

func (o *Orchestrator) recoverInto(ctx context.Context, channel statex.Channel, res *contractx.Result) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("%w: %v", ErrPanic, r)
	log.Ctx(ctx).WithLevel(zerolog.PanicLevel).Stack().Err(err).Msg("recovered panic")
	*res = o.fallback(ctx, channel, err)
}
