// Package probe issues the serial same-origin link probes behind the
// dead-link detector. At most one probe is in flight at any time, one probe
// is issued per distinct absolute URL per page lifetime, and sustained 429
// responses slow the queue down instead of producing false dead links.
package probe

import (
	"context"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Statuses reported for probes that never produced an HTTP response.
const (
	StatusTimeout      = "TIMEOUT"
	StatusNetworkError = "NETWORK_ERROR"
)

const (
	// DefaultInterProbeDelay spaces successive probes so the agent never
	// rate-limits the origin it is diagnosing.
	DefaultInterProbeDelay = 300 * time.Millisecond
	// DefaultTimeout aborts a probe that the origin will not answer.
	DefaultTimeout = 5 * time.Second
	// maxInterProbeDelay caps the 429 backoff doubling.
	maxInterProbeDelay = 10 * time.Second
)

// Result is the cached outcome of probing one absolute URL.
type Result struct {
	URL          string `json:"url"`
	OK           bool   `json:"ok"`
	StatusCode   int    `json:"status_code,omitempty"`
	Status       string `json:"status"` // numeric code, TIMEOUT or NETWORK_ERROR
	Inconclusive bool   `json:"inconclusive,omitempty"`
}

// Dead reports whether the probe conclusively found a broken target. A 429
// is never dead: it means the origin is throttling us, not that the link is
// broken.
func (r Result) Dead() bool { return !r.OK && !r.Inconclusive }

type job struct {
	url       string
	done      bool
	result    Result
	callbacks []func(Result)
}

// Prober drains a strictly serial probe queue. Callbacks fire from the
// prober's own goroutine; callers hand off to their session loop.
type Prober struct {
	mu      sync.Mutex
	client  *http.Client
	jobs    map[string]*job
	queue   []*job
	delay   time.Duration
	timeout time.Duration
	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	debug   bool
}

// Option mutates a Prober at construction time.
type Option func(*Prober)

// WithDelay overrides the base inter-probe delay.
func WithDelay(d time.Duration) Option { return func(p *Prober) { p.delay = d } }

// WithTimeout overrides the per-probe abort timeout.
func WithTimeout(d time.Duration) Option { return func(p *Prober) { p.timeout = d } }

// WithClient overrides the HTTP client (tests).
func WithClient(c *http.Client) Option { return func(p *Prober) { p.client = c } }

// WithDebug enables decision tracing.
func WithDebug(debug bool) Option { return func(p *Prober) { p.debug = debug } }

// New constructs a stopped prober; the drain goroutine starts on first Probe.
func New(opts ...Option) *Prober {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Prober{
		client:  &http.Client{},
		jobs:    make(map[string]*job),
		delay:   DefaultInterProbeDelay,
		timeout: DefaultTimeout,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe registers interest in an absolute URL. The first caller enqueues a
// network probe; every caller for the same URL shares the single cached
// result. The callback fires exactly once, immediately if the result is
// already known.
func (p *Prober) Probe(url string, cb func(Result)) {
	p.mu.Lock()
	j, ok := p.jobs[url]
	if !ok {
		j = &job{url: url}
		p.jobs[url] = j
		p.queue = append(p.queue, j)
		if !p.started {
			p.started = true
			go p.drain()
		}
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	if j.done {
		res := j.result
		p.mu.Unlock()
		if cb != nil {
			cb(res)
		}
		return
	}
	if cb != nil {
		j.callbacks = append(j.callbacks, cb)
	}
	p.mu.Unlock()
}

// Seen reports whether the URL has already been enqueued this page lifetime.
func (p *Prober) Seen(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[url]
	return ok
}

// Stop aborts the in-flight probe and halts the queue. In-flight requests
// are cancelled through their context so an abandoned probe cannot hold a
// connection open after the page is gone.
func (p *Prober) Stop() { p.cancel() }

func (p *Prober) drain() {
	for {
		p.mu.Lock()
		var j *job
		if len(p.queue) > 0 {
			j = p.queue[0]
			p.queue = p.queue[1:]
		}
		p.mu.Unlock()

		if j == nil {
			select {
			case <-p.wake:
				continue
			case <-p.ctx.Done():
				return
			}
		}

		res := p.probeOnce(j.url)

		p.mu.Lock()
		j.result = res
		j.done = true
		cbs := j.callbacks
		j.callbacks = nil
		delay := p.nextDelay(res)
		p.mu.Unlock()

		for _, cb := range cbs {
			cb(res)
		}

		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Prober) probeOnce(url string) Result {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{URL: url, Status: StatusNetworkError}
	}

	// Full GET rather than HEAD: many origins answer HEAD inconsistently.
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			p.tracef("probe %s: timeout", url)
			return Result{URL: url, Status: StatusTimeout}
		}
		p.tracef("probe %s: %v", url, err)
		return Result{URL: url, Status: StatusNetworkError}
	}
	// Body discarded immediately; only reachability matters.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1))
	resp.Body.Close()

	res := Result{
		URL:        url,
		StatusCode: resp.StatusCode,
		Status:     strconv.Itoa(resp.StatusCode),
		OK:         resp.StatusCode < 400,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		res.Inconclusive = true
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			p.applyBackoff(ra)
		} else {
			p.applyBackoff(0)
		}
	}
	p.tracef("probe %s: %s", url, res.Status)
	return res
}

// applyBackoff doubles the inter-probe delay, floored by Retry-After and
// capped so sustained throttling cannot park the queue forever.
func (p *Prober) applyBackoff(retryAfter time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.delay * 2
	if retryAfter > next {
		next = retryAfter
	}
	if next > maxInterProbeDelay {
		next = maxInterProbeDelay
	}
	p.delay = next
}

// nextDelay returns the current delay with ±10% jitter so many simultaneous
// page loads of one site do not probe in lockstep.
func (p *Prober) nextDelay(Result) time.Duration {
	d := p.delay
	spread := int64(d) / 10
	if spread > 0 {
		d += time.Duration(rand.Int63n(2*spread) - spread)
	}
	return d
}

// Delay exposes the current inter-probe delay (tests).
func (p *Prober) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (p *Prober) tracef(format string, args ...interface{}) {
	if p.debug {
		log.Printf("[PROBE] "+format, args...)
	}
}
