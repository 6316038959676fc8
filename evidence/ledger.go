package evidence

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/prodscrape/models"
)

// AttemptOutcome is how one strategy run ended.
type AttemptOutcome string

const (
	AttemptSuccess   AttemptOutcome = "success"
	AttemptFailure   AttemptOutcome = "failure"
	AttemptTimeout   AttemptOutcome = "timeout"
	AttemptCancelled AttemptOutcome = "cancelled"
)

// Attempt records one strategy run.
type Attempt struct {
	Strategy   string
	Outcome    AttemptOutcome
	StatusCode int
	FinalURL   string
	Accepted   int

	// Merged is set when the attempt's evidence went through Ingest.
	// Results arriving after the early stop are not merged.
	Merged bool

	ErrorKind string
	Err       error
	Elapsed   time.Duration
}

// Ledger accumulates evidence for a single scrape call. It is created per
// call and never shared between calls.
type Ledger struct {
	mu sync.Mutex

	deadline time.Time
	priority map[string]int

	accepted map[Field]Candidate

	images       []string
	imageKeys    map[string]struct{}
	imageSources []string

	attempts []Attempt
}

// NewLedger creates an empty ledger. priorities lists strategy ids from
// highest to lowest priority; unknown strategies rank below all of them.
func NewLedger(deadline time.Time, priorities []string) *Ledger {
	prio := make(map[string]int, len(priorities))
	for i, s := range priorities {
		if _, dup := prio[s]; !dup {
			prio[s] = i
		}
	}
	return &Ledger{
		deadline:  deadline,
		priority:  prio,
		accepted:  make(map[Field]Candidate),
		imageKeys: make(map[string]struct{}),
	}
}

func (l *Ledger) rank(strategy string) int {
	if r, ok := l.priority[strategy]; ok {
		return r
	}
	return len(l.priority)
}

// outranks reports whether c should replace cur: strictly higher
// confidence, or equal confidence from a strictly higher-priority strategy.
func (l *Ledger) outranks(c, cur Candidate) bool {
	if c.Confidence != cur.Confidence {
		return c.Confidence > cur.Confidence
	}
	return l.rank(c.Strategy) < l.rank(cur.Strategy)
}

// Ingest merges candidates produced by strategy and returns how many were
// accepted (new images included). Replaying the same candidates is a no-op.
func (l *Ledger) Ingest(candidates []Candidate, strategy string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	accepted := 0
	for _, c := range candidates {
		c.Strategy = strategy
		if !c.Valid() {
			continue
		}

		if c.Field == FieldImageURLs {
			if l.addImage(c.Value.(string), strategy) {
				accepted++
			}
			continue
		}

		cur, ok := l.accepted[c.Field]
		if ok && !l.outranks(c, cur) {
			continue
		}
		if ok && !sameValue(cur.Value, c.Value) {
			slog.Debug("ledger: field replaced",
				"field", c.Field,
				"from_strategy", cur.Strategy,
				"from_confidence", cur.Confidence.String(),
				"to_strategy", c.Strategy,
				"to_confidence", c.Confidence.String(),
			)
		}
		l.accepted[c.Field] = c
		accepted++
	}
	return accepted
}

func (l *Ledger) addImage(raw, strategy string) bool {
	key := imageKey(raw)
	if key == "" {
		return false
	}
	if _, seen := l.imageKeys[key]; seen {
		return false
	}
	l.imageKeys[key] = struct{}{}
	l.images = append(l.images, raw)
	l.imageSources = append(l.imageSources, strategy)
	return true
}

// imageKey is the dedup key for an image URL: scheme and host lowercased,
// fragment dropped, default ports removed.
func imageKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":443")
	host = strings.TrimSuffix(host, ":80")
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// IsSufficient is the stop predicate: name and price accepted and at
// least one image present.
func (l *Ledger) IsSufficient() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, name := l.accepted[FieldProductName]
	_, price := l.accepted[FieldPrice]
	return name && price && len(l.images) > 0
}

// HasEvidence reports whether any field has an accepted value.
func (l *Ledger) HasEvidence() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.accepted) > 0 || len(l.images) > 0
}

// Accepted returns the accepted candidate for a field.
func (l *Ledger) Accepted(f Field) (Candidate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.accepted[f]
	return c, ok
}

// Images returns the accumulated image URLs in arrival order.
func (l *Ledger) Images() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.images...)
}

// RecordAttempt appends a strategy outcome.
func (l *Ledger) RecordAttempt(a Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
}

// Attempts returns a copy of the recorded attempts.
func (l *Ledger) Attempts() []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Attempt(nil), l.attempts...)
}

// Attempted reports whether strategy has a recorded outcome.
func (l *Ledger) Attempted(strategy string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.attempts {
		if a.Strategy == strategy {
			return true
		}
	}
	return false
}

// Remaining returns the time left before the call deadline.
func (l *Ledger) Remaining(now time.Time) time.Duration {
	if l.deadline.IsZero() {
		return 0
	}
	if d := l.deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Record builds the product record from the accepted values.
func (l *Ledger) Record() models.ProductRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := models.NewProductRecord()
	if c, ok := l.accepted[FieldProductName]; ok {
		s := c.Value.(string)
		rec.ProductName = &s
	}
	if c, ok := l.accepted[FieldBrand]; ok {
		s := c.Value.(string)
		rec.Brand = &s
	}
	if c, ok := l.accepted[FieldPrice]; ok {
		p := c.Value.(models.Price)
		rec.Price = &p
	}
	rec.ImageURLs = append(rec.ImageURLs, l.images...)
	if c, ok := l.accepted[FieldGarmentType]; ok {
		rec.GarmentType = c.Value.(models.GarmentType)
	}
	if c, ok := l.accepted[FieldAvailability]; ok {
		rec.Availability = c.Value.(models.Availability)
	}
	return rec
}

// Attribution maps each accepted field to the strategy that produced it.
// image_urls lists every contributing strategy in arrival order.
func (l *Ledger) Attribution() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]string, len(l.accepted)+1)
	for f, c := range l.accepted {
		out[string(f)] = c.Strategy
	}
	var sources []string
	seen := make(map[string]struct{})
	for _, s := range l.imageSources {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			sources = append(sources, s)
		}
	}
	if len(sources) > 0 {
		out[string(FieldImageURLs)] = strings.Join(sources, ",")
	}
	return out
}

// MissingFields lists fields that are null or still at their sentinel.
func (l *Ledger) MissingFields() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var missing []string
	for _, f := range Fields {
		if f == FieldImageURLs {
			if len(l.images) == 0 {
				missing = append(missing, string(f))
			}
			continue
		}
		if _, ok := l.accepted[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	return missing
}

// SourceURL is the final URL reported by the highest-priority successful
// attempt whose evidence was merged, or "" when there is none.
func (l *Ledger) SourceURL() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	best, bestRank := "", -1
	for _, a := range l.attempts {
		if a.Outcome != AttemptSuccess || !a.Merged || a.FinalURL == "" {
			continue
		}
		if r := l.rank(a.Strategy); bestRank < 0 || r < bestRank {
			best, bestRank = a.FinalURL, r
		}
	}
	return best
}
