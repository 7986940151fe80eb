package connectivity

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Prober turns periodic HEAD requests into connectivity events.
type Prober struct {
	url      string
	interval time.Duration
	monitor  *Monitor
	client   *http.Client
	log      *zap.Logger
}

func NewProber(monitor *Monitor, url string, interval, timeout time.Duration, log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{
		url:      url,
		interval: interval,
		monitor:  monitor,
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment, DisableKeepAlives: true},
		},
		log: log,
	}
}

// Probe reports whether the probe URL answered with a status below 500.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.log.Error("build probe request", zap.String("url", p.url), zap.Error(err))
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("probe failed", zap.String("url", p.url), zap.Error(err))
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.monitor.SetOnline(ctx, online)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
