package channel

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

type pendingStatus int

const (
	statusMissing pendingStatus = iota
	statusPending
	statusReady
)

type pendingEntry struct {
	calls     []statex.ToolCall
	claimed   bool
	result    *contractx.Result
	expiresAt time.Time
}

// pendingTable holds deferred voice tool calls keyed by CallSid until the
// call polls for the outcome.
type pendingTable struct {
	entries *xsync.MapOf[string, pendingEntry]
	ttl     time.Duration
	now     func() time.Time
}

func newPendingTable(ttl time.Duration) *pendingTable {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &pendingTable{
		entries: xsync.NewMapOf[string, pendingEntry](),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (p *pendingTable) put(callSID string, calls []statex.ToolCall) {
	now := p.now()
	p.sweep(now)
	p.entries.Store(callSID, pendingEntry{calls: calls, expiresAt: now.Add(p.ttl)})
}

// claim hands out the calls of an entry once. Redelivered resolve requests get
// nothing.
func (p *pendingTable) claim(callSID string) ([]statex.ToolCall, bool) {
	var (
		calls []statex.ToolCall
		ok    bool
	)
	now := p.now()
	p.entries.Compute(callSID, func(old pendingEntry, loaded bool) (pendingEntry, bool) {
		if !loaded || now.After(old.expiresAt) {
			return old, true
		}
		if old.claimed {
			return old, false
		}
		old.claimed = true
		calls, ok = old.calls, true
		return old, false
	})
	return calls, ok
}

func (p *pendingTable) complete(callSID string, res contractx.Result) {
	p.entries.Compute(callSID, func(old pendingEntry, loaded bool) (pendingEntry, bool) {
		if !loaded {
			return old, true
		}
		old.result = &res
		return old, false
	})
}

// take removes and returns a finished outcome. A pending entry stays.
func (p *pendingTable) take(callSID string) (contractx.Result, pendingStatus) {
	var (
		res    contractx.Result
		status = statusMissing
	)
	now := p.now()
	p.entries.Compute(callSID, func(old pendingEntry, loaded bool) (pendingEntry, bool) {
		if !loaded || now.After(old.expiresAt) {
			return old, true
		}
		if old.result == nil {
			status = statusPending
			return old, false
		}
		res, status = *old.result, statusReady
		return old, true
	})
	return res, status
}

func (p *pendingTable) sweep(now time.Time) {
	p.entries.Range(func(key string, e pendingEntry) bool {
		if now.After(e.expiresAt) {
			p.entries.Delete(key)
		}
		return true
	})
}
