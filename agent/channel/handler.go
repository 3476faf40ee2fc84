// Package channel exposes the orchestrator over Twilio-style webhooks for
// WhatsApp, SMS and voice.
package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
	logx "github.com/tanpawarit/Chative-Omnichannel-Concierge/pkg/logger"
)

const (
	PathWhatsApp       = "/whatsapp"
	PathWhatsAppStatus = "/whatsapp/status"
	PathSMS            = "/sms"
	PathSMSStatus      = "/sms/status"
	PathVoice          = "/voice"
	PathToolsResolve   = "/voice/tools/resolve"
	PathToolsResult    = "/voice/tools/result"

	signatureHeader = "Upstash-Signature"
)

// Processor is the conversation engine behind the webhooks.
type Processor interface {
	Process(ctx context.Context, message, sessionID string, channel statex.Channel, phone string) contractx.Result
	ResolveTools(ctx context.Context, calls []statex.ToolCall, sessionID string, channel statex.Channel) contractx.Result
}

// Queue delivers deferred voice tool resolution through an external message
// queue. *qstash.Client implements it.
type Queue interface {
	Publish(ctx context.Context, destination string, body any) (string, error)
	Verify(signature string, body []byte, destination string) error
	CallbackURL(path string) string
}

type Config struct {
	Addr           string        `split_words:"true" default:":8080"`
	OperatorNumber string        `split_words:"true"`
	VoiceLanguage  string        `split_words:"true" default:"he-IL"`
	PendingTTL     time.Duration `split_words:"true" default:"5m"`
	PollPause      int           `split_words:"true" default:"2"`
	ResolveTimeout time.Duration `split_words:"true" default:"60s"`
}

type Option func(*Handler)

// WithQueue schedules voice tool resolution through q instead of an
// in-process goroutine.
func WithQueue(q Queue) Option {
	return func(h *Handler) {
		if q != nil {
			h.queue = q
		}
	}
}

type Handler struct {
	proc      Processor
	formatter contractx.ReplyFormatter
	queue     Queue
	pending   *pendingTable
	cfg       Config
	log       zerolog.Logger

	background conc.WaitGroup
}

func New(proc Processor, formatter contractx.ReplyFormatter, cfg Config, opts ...Option) *Handler {
	if cfg.PollPause <= 0 {
		cfg.PollPause = 2
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 60 * time.Second
	}
	h := &Handler{
		proc:      proc,
		formatter: formatter,
		pending:   newPendingTable(cfg.PendingTTL),
		cfg:       cfg,
		log:       logx.Component("channel"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *Handler) RegisterRoutes(router gin.IRoutes) {
	router.POST(PathWhatsApp, h.handleWhatsApp)
	router.POST(PathWhatsAppStatus, h.handleStatus(statex.ChannelChat))
	router.POST(PathSMS, h.handleSMS)
	router.POST(PathSMSStatus, h.handleStatus(statex.ChannelSMS))
	router.POST(PathVoice, h.handleVoice)
	router.POST(PathToolsResolve, h.handleToolsResolve)
	router.POST(PathToolsResult, h.handleToolsResult)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Wait blocks until in-process tool resolutions have finished.
func (h *Handler) Wait() {
	h.background.Wait()
}

func (h *Handler) handleWhatsApp(c *gin.Context) {
	from := c.PostForm("From")
	phone := strings.TrimPrefix(from, "whatsapp:")
	h.replyMessage(c, statex.ChannelChat, from, phone)
}

func (h *Handler) handleSMS(c *gin.Context) {
	from := c.PostForm("From")
	h.replyMessage(c, statex.ChannelSMS, "sms:"+from, from)
}

func (h *Handler) replyMessage(c *gin.Context, channel statex.Channel, sessionID, phone string) {
	logger := h.log.With().Str("channel", string(channel)).Str("message_sid", c.PostForm("MessageSid")).Logger()
	ctx := logger.WithContext(c.Request.Context())

	res := h.proc.Process(ctx, c.PostForm("Body"), sessionID, channel, phone)
	text := res.Text
	if text == "" {
		text = h.formatter.FixedMessage(contractx.MessageAPIError, channel)
	}
	writeTwiML(c, messageVerb{Text: text})
}

func (h *Handler) handleStatus(channel statex.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.log.Info().
			Str("channel", string(channel)).
			Str("message_sid", c.PostForm("MessageSid")).
			Str("status", c.PostForm("MessageStatus")).
			Msg("delivery status")
		c.String(http.StatusOK, "OK")
	}
}

func (h *Handler) handleVoice(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	speech := strings.TrimSpace(c.PostForm("SpeechResult"))

	logger := h.log.With().Str("channel", string(statex.ChannelVoice)).Str("call_sid", callSID).Logger()
	ctx := logger.WithContext(c.Request.Context())

	if speech == "" {
		writeTwiML(c, h.gather(h.formatter.FixedMessage(contractx.MessageGreeting, statex.ChannelVoice)))
		return
	}

	res := h.proc.Process(ctx, speech, callSID, statex.ChannelVoice, c.PostForm("From"))
	if res.RequiresToolCall {
		h.pending.put(callSID, res.FunctionCalls)
		h.schedule(ctx, callSID)
		writeTwiML(c, h.say(res.Text), redirectVerb{Method: http.MethodPost, URL: PathToolsResult})
		return
	}
	h.writeVoiceResult(c, res)
}

type resolveRequest struct {
	CallSID string `json:"call_sid"`
}

func (h *Handler) schedule(ctx context.Context, callSID string) {
	logger := zerolog.Ctx(ctx)
	if h.queue != nil {
		id, err := h.queue.Publish(ctx, h.queue.CallbackURL(PathToolsResolve), resolveRequest{CallSID: callSID})
		if err == nil {
			logger.Info().Str("message_id", id).Msg("tool resolution queued")
			return
		}
		logger.Warn().Err(err).Msg("queue publish failed, resolving in process")
	}

	bctx := context.WithoutCancel(ctx)
	h.background.Go(func() {
		h.resolve(bctx, callSID)
	})
}

// resolve runs the deferred calls of callSID once and records the outcome.
func (h *Handler) resolve(ctx context.Context, callSID string) bool {
	calls, ok := h.pending.claim(callSID)
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ResolveTimeout)
	defer cancel()

	res := h.proc.ResolveTools(ctx, calls, callSID, statex.ChannelVoice)
	h.pending.complete(callSID, res)
	return true
}

func (h *Handler) handleToolsResolve(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.queue != nil {
		if err := h.queue.Verify(c.GetHeader(signatureHeader), body, h.queue.CallbackURL(PathToolsResolve)); err != nil {
			h.log.Warn().Err(err).Msg("rejected tool resolution callback")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var req resolveRequest
	if err := json.Unmarshal(body, &req); err != nil || strings.TrimSpace(req.CallSID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call_sid is required"})
		return
	}

	logger := h.log.With().Str("channel", string(statex.ChannelVoice)).Str("call_sid", req.CallSID).Logger()
	if !h.resolve(logger.WithContext(c.Request.Context()), req.CallSID) {
		// Expired or already claimed. A 2xx stops queue redelivery.
		c.JSON(http.StatusOK, gin.H{"status": "skipped"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (h *Handler) handleToolsResult(c *gin.Context) {
	res, status := h.pending.take(c.PostForm("CallSid"))
	switch status {
	case statusReady:
		h.writeVoiceResult(c, res)
	case statusPending:
		writeTwiML(c,
			pauseVerb{Length: h.cfg.PollPause},
			redirectVerb{Method: http.MethodPost, URL: PathToolsResult},
		)
	default:
		writeTwiML(c, h.gather(h.formatter.FixedMessage(contractx.MessageAPIError, statex.ChannelVoice)))
	}
}

func (h *Handler) writeVoiceResult(c *gin.Context, res contractx.Result) {
	text := res.Text
	if text == "" {
		text = h.formatter.FixedMessage(contractx.MessageAPIError, statex.ChannelVoice)
	}
	if res.TransferToOperator {
		if h.cfg.OperatorNumber == "" {
			writeTwiML(c, h.say(text), hangupVerb{})
			return
		}
		writeTwiML(c, h.say(text), dialVerb{Number: h.cfg.OperatorNumber})
		return
	}
	writeTwiML(c, h.gather(text))
}

func (h *Handler) say(text string) sayVerb {
	return sayVerb{Language: h.cfg.VoiceLanguage, Text: text}
}

func (h *Handler) gather(prompt string) gatherVerb {
	say := h.say(prompt)
	return gatherVerb{
		Input:         "speech",
		Action:        PathVoice,
		Method:        http.MethodPost,
		Language:      h.cfg.VoiceLanguage,
		SpeechTimeout: "auto",
		Say:           &say,
	}
}
