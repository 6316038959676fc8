package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/prodscrape/engine"
	"github.com/use-agent/prodscrape/evidence"
)

// state of one orchestrated call.
type state int

const (
	stateIdle state = iota
	stateRacing
	stateMerging
	stateDone
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRacing:
		return "racing"
	case stateMerging:
		return "merging"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// entry is a configured strategy with its start delay.
type entry struct {
	strategy Strategy
	delay    time.Duration
}

// orchestrator races every strategy for one URL and feeds their evidence
// into a ledger until the ledger is sufficient or all strategies finish.
type orchestrator struct {
	entries []entry
	memory  *hostMemory

	// onAttempt observes every recorded attempt; may be nil.
	onAttempt func(evidence.Attempt)
}

// attemptResult travels from a strategy goroutine to the orchestrator.
type attemptResult struct {
	strategy string
	ev       *Evidence
	err      error
	elapsed  time.Duration
}

// raceStats summarizes a finished race.
type raceStats struct {
	racing       time.Duration
	stoppedEarly bool
	winner       string
}

// run executes the race. Only this goroutine touches the ledger's merge
// state; strategy goroutines report over a channel. run returns after every
// strategy goroutine has returned.
func (o *orchestrator) run(ctx context.Context, rawURL string, deadline time.Time, ledger *evidence.Ledger) raceStats {
	st := stateIdle
	transition := func(to state) {
		slog.Debug("orchestrator: state", "url", rawURL, "from", st.String(), "to", to.String())
		st = to
	}

	raceCtx, raceCancel := context.WithDeadline(ctx, deadline)
	defer raceCancel()

	host := hostOf(rawURL)
	remembered := ""
	if o.memory != nil {
		remembered = o.memory.Get(host)
	}

	results := make(chan attemptResult, len(o.entries))
	var wg sync.WaitGroup

	start := time.Now()
	transition(stateRacing)

	for _, e := range o.entries {
		delay := e.delay
		if remembered != "" && e.strategy.Name() == remembered {
			delay = 0
		}
		wg.Add(1)
		go func(s Strategy, d time.Duration) {
			defer wg.Done()

			if d > 0 {
				timer := time.NewTimer(d)
				select {
				case <-raceCtx.Done():
					timer.Stop()
					results <- attemptResult{strategy: s.Name(), err: raceCtx.Err()}
					return
				case <-timer.C:
				}
			}

			slog.Debug("strategy starting", "strategy", s.Name(), "url", rawURL)
			began := time.Now()
			ev, err := s.Collect(raceCtx, rawURL)
			if err != nil {
				slog.Debug("strategy failed", "strategy", s.Name(), "url", rawURL, "error", err)
			}
			results <- attemptResult{strategy: s.Name(), ev: ev, err: err, elapsed: time.Since(began)}
		}(e.strategy, delay)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var stats raceStats
	for r := range results {
		attempt := evidence.Attempt{
			Strategy: r.strategy,
			Outcome:  attemptOutcome(raceCtx, r.err),
			Elapsed:  r.elapsed,
			Err:      r.err,
		}
		if r.err != nil {
			attempt.ErrorKind = errorKind(raceCtx, r.err)
		}
		if r.ev != nil {
			attempt.StatusCode = r.ev.StatusCode
			attempt.FinalURL = r.ev.FinalURL
		}

		switch {
		case r.err != nil || r.ev == nil:
		case stats.stoppedEarly:
			// Arrived after the stop: recorded, never merged.
			attempt.Outcome = evidence.AttemptCancelled
			attempt.ErrorKind = string(engine.KindCancelled)
		default:
			attempt.Accepted = ledger.Ingest(r.ev.Candidates, r.strategy)
			attempt.Merged = true
		}
		ledger.RecordAttempt(attempt)
		if o.onAttempt != nil {
			o.onAttempt(attempt)
		}

		if !stats.stoppedEarly && ledger.IsSufficient() {
			stats.stoppedEarly = true
			stats.winner = r.strategy
			raceCancel()
			slog.Debug("orchestrator: evidence sufficient, cancelling remaining strategies",
				"url", rawURL, "strategy", r.strategy)
		}
	}
	stats.racing = time.Since(start)

	transition(stateMerging)
	if o.memory != nil && host != "" {
		switch {
		case stats.winner != "":
			o.memory.Set(host, stats.winner)
		case remembered != "":
			o.memory.Delete(host)
		}
	}
	transition(stateDone)
	return stats
}

// attemptOutcome classifies how a strategy run ended. Errors caused by the
// race context are reported by the context's state.
func attemptOutcome(raceCtx context.Context, err error) evidence.AttemptOutcome {
	switch {
	case err == nil:
		return evidence.AttemptSuccess
	case errors.Is(err, engine.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return evidence.AttemptTimeout
	case errors.Is(err, engine.ErrCancelled), errors.Is(err, context.Canceled):
		return evidence.AttemptCancelled
	case errors.Is(raceCtx.Err(), context.DeadlineExceeded):
		return evidence.AttemptTimeout
	case errors.Is(raceCtx.Err(), context.Canceled):
		return evidence.AttemptCancelled
	}
	return evidence.AttemptFailure
}

func errorKind(raceCtx context.Context, err error) string {
	if k := engine.KindOf(err); k != "" {
		return string(k)
	}
	switch attemptOutcome(raceCtx, err) {
	case evidence.AttemptTimeout:
		return string(engine.KindTimeout)
	case evidence.AttemptCancelled:
		return string(engine.KindCancelled)
	}
	return "strategy-failed"
}
