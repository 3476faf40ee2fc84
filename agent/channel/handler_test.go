package channel

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	replyx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/reply"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

type processCall struct {
	Message   string
	SessionID string
	Channel   statex.Channel
	Phone     string
}

type fakeProcessor struct {
	mu       sync.Mutex
	process  contractx.Result
	resolve  contractx.Result
	calls    []processCall
	resolved []string
	block    chan struct{}
}

func (f *fakeProcessor) Process(_ context.Context, message, sessionID string, channel statex.Channel, phone string) contractx.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, processCall{message, sessionID, channel, phone})
	return f.process
}

func (f *fakeProcessor) ResolveTools(_ context.Context, _ []statex.ToolCall, sessionID string, _ statex.Channel) contractx.Result {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, sessionID)
	return f.resolve
}

func (f *fakeProcessor) lastCall() processCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeProcessor) resolvedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resolved)
}

type fakeQueue struct {
	mu         sync.Mutex
	published  []any
	verifyErr  error
	publishErr error
}

func (q *fakeQueue) Publish(_ context.Context, _ string, body any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return "", q.publishErr
	}
	q.published = append(q.published, body)
	return "msg_1", nil
}

func (q *fakeQueue) Verify(signature string, _ []byte, destination string) error {
	if q.verifyErr != nil {
		return q.verifyErr
	}
	if signature == "" || destination != "https://example.com/voice/tools/resolve" {
		return errors.New("bad signature")
	}
	return nil
}

func (q *fakeQueue) CallbackURL(path string) string {
	return "https://example.com" + path
}

func newTestRouter(t *testing.T, proc Processor, opts ...Option) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := New(proc, replyx.New(), Config{OperatorNumber: "+972500000001", VoiceLanguage: "he-IL", PollPause: 1}, opts...)
	router := gin.New()
	h.RegisterRoutes(router)
	t.Cleanup(h.Wait)
	return router, h
}

func postForm(t *testing.T, router http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWhatsAppWebhook(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{process: contractx.Result{Text: "*10:00* is free"}}
	router, _ := newTestRouter(t, proc)

	rec := postForm(t, router, PathWhatsApp, url.Values{"Body": {"free tomorrow?"}, "From": {"whatsapp:+972501111111"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/xml")
	require.Contains(t, rec.Body.String(), "<Response><Message>*10:00* is free</Message></Response>")

	call := proc.lastCall()
	require.Equal(t, processCall{"free tomorrow?", "whatsapp:+972501111111", statex.ChannelChat, "+972501111111"}, call)
}

func TestSMSWebhookFallsBackOnEmptyText(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{}
	router, _ := newTestRouter(t, proc)

	rec := postForm(t, router, PathSMS, url.Values{"Body": {"hi"}, "From": {"+972502222222"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), replyx.New().FixedMessage(contractx.MessageAPIError, statex.ChannelSMS))

	call := proc.lastCall()
	require.Equal(t, "sms:+972502222222", call.SessionID)
	require.Equal(t, "+972502222222", call.Phone)
	require.Equal(t, statex.ChannelSMS, call.Channel)
}

func TestStatusCallbacks(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &fakeProcessor{})
	for _, path := range []string{PathWhatsAppStatus, PathSMSStatus} {
		rec := postForm(t, router, path, url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "OK", rec.Body.String())
	}
}

func TestVoiceGreetingWithoutSpeech(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{}
	router, _ := newTestRouter(t, proc)

	rec := postForm(t, router, PathVoice, url.Values{"CallSid": {"CA1"}})
	body := rec.Body.String()
	require.Contains(t, body, `<Gather input="speech" action="/voice" method="POST" language="he-IL" speechTimeout="auto">`)
	require.Contains(t, body, replyx.New().FixedMessage(contractx.MessageGreeting, statex.ChannelVoice))
	require.Empty(t, proc.calls)
}

func TestVoiceTextReply(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{process: contractx.Result{Text: "We open at nine"}}
	router, _ := newTestRouter(t, proc)

	rec := postForm(t, router, PathVoice, url.Values{"CallSid": {"CA2"}, "From": {"+972503333333"}, "SpeechResult": {"when do you open"}})
	require.Contains(t, rec.Body.String(), `<Say language="he-IL">We open at nine</Say></Gather>`)
	require.Equal(t, processCall{"when do you open", "CA2", statex.ChannelVoice, "+972503333333"}, proc.lastCall())
}

func TestVoiceTransfer(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{process: contractx.Result{Text: "transferring", TransferToOperator: true}}
	router, _ := newTestRouter(t, proc)

	rec := postForm(t, router, PathVoice, url.Values{"CallSid": {"CA3"}, "SpeechResult": {"human"}})
	require.Contains(t, rec.Body.String(), `<Say language="he-IL">transferring</Say><Dial>+972500000001</Dial>`)
}

func TestVoiceToolCallResolvedInProcess(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{
		process: contractx.Result{
			Text:             "one moment",
			RequiresToolCall: true,
			FunctionCalls:    []statex.ToolCall{{ID: "call_1", Name: "check_availability"}},
		},
		resolve: contractx.Result{Text: "10:00 is free"},
		block:   make(chan struct{}),
	}
	router, _ := newTestRouter(t, proc)

	rec := postForm(t, router, PathVoice, url.Values{"CallSid": {"CA4"}, "SpeechResult": {"free tomorrow?"}})
	body := rec.Body.String()
	require.Contains(t, body, `<Say language="he-IL">one moment</Say>`)
	require.Contains(t, body, `<Redirect method="POST">/voice/tools/result</Redirect>`)

	rec = postForm(t, router, PathToolsResult, url.Values{"CallSid": {"CA4"}})
	require.Contains(t, rec.Body.String(), `<Pause length="1"></Pause><Redirect method="POST">/voice/tools/result</Redirect>`)

	close(proc.block)
	require.Eventually(t, func() bool { return proc.resolvedCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		rec = postForm(t, router, PathToolsResult, url.Values{"CallSid": {"CA4"}})
		return strings.Contains(rec.Body.String(), "10:00 is free")
	}, 2*time.Second, 10*time.Millisecond)

	// The outcome is delivered once.
	rec = postForm(t, router, PathToolsResult, url.Values{"CallSid": {"CA4"}})
	require.Contains(t, rec.Body.String(), replyx.New().FixedMessage(contractx.MessageAPIError, statex.ChannelVoice))
}

func TestVoiceToolCallThroughQueue(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{
		process: contractx.Result{
			Text:             "one moment",
			RequiresToolCall: true,
			FunctionCalls:    []statex.ToolCall{{ID: "call_1", Name: "check_availability"}},
		},
		resolve: contractx.Result{Text: "transferring", TransferToOperator: true},
	}
	queue := &fakeQueue{}
	router, _ := newTestRouter(t, proc, WithQueue(queue))

	postForm(t, router, PathVoice, url.Values{"CallSid": {"CA5"}, "SpeechResult": {"human please"}})
	require.Len(t, queue.published, 1)
	require.Equal(t, resolveRequest{CallSID: "CA5"}, queue.published[0])
	require.Zero(t, proc.resolvedCount())

	unsigned := httptest.NewRequest(http.MethodPost, PathToolsResolve, bytes.NewBufferString(`{"call_sid":"CA5"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, unsigned)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	for i := 0; i < 2; i++ {
		signed := httptest.NewRequest(http.MethodPost, PathToolsResolve, bytes.NewBufferString(`{"call_sid":"CA5"}`))
		signed.Header.Set(signatureHeader, "sig")
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, signed)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 1, proc.resolvedCount(), "redelivery must not resolve twice")

	rec = postForm(t, router, PathToolsResult, url.Values{"CallSid": {"CA5"}})
	require.Contains(t, rec.Body.String(), `<Dial>+972500000001</Dial>`)
}

func TestVoiceQueueFailureFallsBackToInProcess(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{
		process: contractx.Result{Text: "one moment", RequiresToolCall: true, FunctionCalls: []statex.ToolCall{{ID: "c", Name: "x"}}},
		resolve: contractx.Result{Text: "done"},
	}
	router, _ := newTestRouter(t, proc, WithQueue(&fakeQueue{publishErr: errors.New("qstash down")}))

	postForm(t, router, PathVoice, url.Values{"CallSid": {"CA6"}, "SpeechResult": {"book"}})
	require.Eventually(t, func() bool { return proc.resolvedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestToolsResolveRejectsBadPayload(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &fakeProcessor{})
	req := httptest.NewRequest(http.MethodPost, PathToolsResolve, bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPendingTableExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	p := newPendingTable(time.Minute)
	p.now = func() time.Time { return now }

	p.put("CA1", []statex.ToolCall{{ID: "c1"}})
	_, status := p.take("CA1")
	require.Equal(t, statusPending, status)

	now = now.Add(2 * time.Minute)
	_, ok := p.claim("CA1")
	require.False(t, ok)
	_, status = p.take("CA1")
	require.Equal(t, statusMissing, status)
}
