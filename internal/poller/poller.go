// Package poller implements the client-side polling loop that watches a
// research run until it reaches its terminal state.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gpericol/researchflow/internal/domain/job"
)

// ProgressFunc fetches the current run snapshot for one (research, group)
// target. The apiclient's CheckProgress satisfies it.
type ProgressFunc func(ctx context.Context, researchID string, groupIndex int) (job.Snapshot, error)

// Update is delivered to the observer after every successful poll.
type Update struct {
	ResearchID string
	GroupIndex int
	Snapshot   job.Snapshot
}

// Poller repeatedly queries run progress for a single target at a fixed
// interval, backing off on transient failures. Setting a new target replaces
// the previous loop: at most one poll loop is live at a time, so switching
// between groups never stacks a second ticker behind the first.
type Poller struct {
	fetch    ProgressFunc
	interval time.Duration
	backoff  time.Duration
	updates  chan Update
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Poller. interval is the pause between successful polls and
// backoff the longer pause after a failed one.
func New(fetch ProgressFunc, interval, backoff time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		fetch:    fetch,
		interval: interval,
		backoff:  backoff,
		updates:  make(chan Update, 16),
		logger:   logger,
	}
}

// Updates returns the channel snapshots are delivered on.
func (p *Poller) Updates() <-chan Update {
	return p.updates
}

// Set starts polling the given target, stopping any previous loop first. The
// previous loop is fully torn down before the new one starts, so updates for
// the old target never interleave with the new one's.
func (p *Poller) Set(ctx context.Context, researchID string, groupIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(loopCtx, researchID, groupIndex)
}

// Stop cancels the current poll loop, if any, and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, researchID string, groupIndex int) {
	defer p.wg.Done()

	for {
		snap, err := p.fetch(ctx, researchID, groupIndex)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient failure: back off and retry, never give up.
			p.logger.Warn("poll failed", "research_id", researchID, "group_index", groupIndex, "error", err)
			if !sleep(ctx, p.backoff) {
				return
			}
			continue
		}

		select {
		case p.updates <- Update{ResearchID: researchID, GroupIndex: groupIndex, Snapshot: snap}:
		case <-ctx.Done():
			return
		}

		if snap.Completed {
			return
		}
		if !sleep(ctx, p.interval) {
			return
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
