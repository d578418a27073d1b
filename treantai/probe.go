package treantai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
)

// rateLimitProbe periodically requests the Discord API root, logging a
// warning when Discord responds with 429 Too Many Requests. It only
// monitors, and takes no corrective action.
type rateLimitProbe struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	cron       *cron.Cron

	lastStatus    atomic.Int64
	lastCheckedAt atomic.Int64
	rateLimited   atomic.Int64
}

// ProbeStatus is the most recent probe result
type ProbeStatus struct {
	StatusCode  int        `json:"status_code"`
	CheckedAt   *time.Time `json:"checked_at,omitempty"`
	RateLimited int64      `json:"rate_limited"`
}

func newRateLimitProbe(
	url string,
	interval time.Duration,
	httpClient *http.Client,
	logger *slog.Logger,
) *rateLimitProbe {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if interval <= 0 {
		interval = DefaultRateLimitProbeInterval
	}
	return &rateLimitProbe{
		url:        url,
		interval:   interval,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Start schedules the probe. The returned func stops the schedule and
// waits for a running check to finish.
func (p *rateLimitProbe) Start(ctx context.Context) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(
		fmt.Sprintf("@every %s", p.interval),
		func() { p.check(ctx) },
	)
	if err != nil {
		return nil, fmt.Errorf("error scheduling rate limit probe: %w", err)
	}
	p.cron = c
	c.Start()
	p.logger.InfoContext(ctx, "started rate limit probe", "url", p.url, "interval", p.interval)
	return func() {
		<-c.Stop().Done()
		p.logger.Info("stopped rate limit probe")
	}, nil
}

func (p *rateLimitProbe) check(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.ErrorContext(ctx, "error creating probe request", tint.Err(err))
		return
	}
	resp, err := p.httpClient.Do(req)
	p.lastCheckedAt.Store(time.Now().UnixMilli())
	if err != nil {
		p.lastStatus.Store(0)
		p.logger.DebugContext(ctx, "probe request failed", tint.Err(err))
		return
	}
	_ = resp.Body.Close()
	p.lastStatus.Store(int64(resp.StatusCode))

	if resp.StatusCode == http.StatusTooManyRequests {
		p.rateLimited.Add(1)
		p.logger.WarnContext(
			ctx,
			"Discord Rate Limited",
			"status", resp.StatusCode,
			"message", resp.Status,
			"retry_after", resp.Header.Get("Retry-After"),
		)
		return
	}
	p.logger.DebugContext(ctx, "probe finished", "status", resp.StatusCode)
}

func (p *rateLimitProbe) Status() ProbeStatus {
	st := ProbeStatus{
		StatusCode:  int(p.lastStatus.Load()),
		RateLimited: p.rateLimited.Load(),
	}
	if checked := p.lastCheckedAt.Load(); checked > 0 {
		t := time.UnixMilli(checked)
		st.CheckedAt = &t
	}
	return st
}
