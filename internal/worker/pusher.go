package worker

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// PushInterval is the minimum spacing between non-forced status pushes.
const PushInterval = 2 * time.Second

// Pusher throttles status pushes for one run: at most one non-forced
// push per interval, forced pushes always go out. Push failures are
// logged and swallowed; a status push must never fail the model run.
type Pusher struct {
	client     *Client
	baseURL    string
	workItemID string
	clock      clockwork.Clock
	logger     *log.Logger

	mu          sync.Mutex
	lastPush    time.Time
	lastPercent int
	logBuf      strings.Builder
}

// NewPusher builds a pusher for one work item.
func NewPusher(client *Client, baseURL, workItemID string, clock clockwork.Clock, logger *log.Logger) *Pusher {
	return &Pusher{
		client:     client,
		baseURL:    baseURL,
		workItemID: workItemID,
		clock:      clock,
		logger:     logger,
	}
}

// Log appends a line to the run log carried on every push.
func (p *Pusher) Log(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logBuf.WriteString(line)
	p.logBuf.WriteString("\n")
}

// LastPercent returns the highest percent handed to Push so far,
// throttled pushes included. The failure path reports this instead of
// resetting the item's progress.
func (p *Pusher) LastPercent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPercent
}

// LogText returns the captured run log.
func (p *Pusher) LogText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logBuf.String()
}

// Push sends a status update. Non-forced pushes within the throttle
// interval are dropped; forced pushes are used at phase boundaries and
// at terminal status so those are never lost.
func (p *Pusher) Push(code int, message string, percent int, force bool) {
	p.mu.Lock()
	if percent > p.lastPercent {
		p.lastPercent = percent
	}
	now := p.clock.Now()
	if !force && now.Sub(p.lastPush) < PushInterval {
		p.mu.Unlock()
		return
	}
	p.lastPush = now
	update := StatusUpdate{
		StatusCode:    code,
		StatusMessage: message,
		PercentDone:   percent,
		Log:           p.logBuf.String(),
	}
	p.mu.Unlock()

	if err := p.client.PushStatus(p.baseURL, p.workItemID, update); err != nil {
		if p.logger != nil {
			p.logger.Printf("status push for %s failed: %v", p.workItemID, err)
		}
	}
}
