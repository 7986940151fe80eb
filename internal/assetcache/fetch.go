package assetcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jw6ventures/studydesk/internal/metrics"
)

const maxBodyBytes = 32 << 20

var storedHeaders = []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"}

// forwarded request headers when fetching on behalf of a client.
var forwardHeaders = []string{"Accept", "Accept-Language"}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || !s.sameOrigin(r.URL) || s.State() != StateActive {
		metrics.AssetRequest("bypass")
		s.proxy.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	name := s.CacheName()
	key := r.URL.RequestURI()

	cached, err := s.storage.Match(ctx, name, key)
	if err != nil {
		s.log.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	if cached != nil {
		metrics.AssetRequest("hit")
		writeEntry(w, cached, "HIT")
		s.revalidate(key, r.Header)
		return
	}

	e, err := s.fetch(ctx, key, r.Header)
	if err != nil {
		s.log.Debug("network fetch failed", zap.String("key", key), zap.Error(err))
		s.serveOffline(w, r)
		return
	}
	if e.Status == http.StatusOK {
		if err := s.storage.Put(ctx, name, key, e); err != nil {
			s.log.Warn("cache store failed", zap.String("key", key), zap.Error(err))
		}
		metrics.AssetRequest("miss")
	} else {
		metrics.AssetRequest("network")
	}
	writeEntry(w, e, "MISS")
}

func (s *Service) sameOrigin(u *url.URL) bool {
	if !u.IsAbs() {
		return true
	}
	return strings.EqualFold(u.Host, s.origin.Host)
}

func (s *Service) serveOffline(w http.ResponseWriter, r *http.Request) {
	if isNavigation(r) {
		shell, err := s.storage.Match(r.Context(), s.CacheName(), s.opts.Shell)
		if err == nil && shell != nil {
			metrics.AssetRequest("shell")
			writeEntry(w, shell, "SHELL")
			return
		}
	}
	metrics.AssetRequest("offline")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, "Offline - Resource not available")
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Dest") == "document" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// revalidate refreshes key in the background. Concurrent refreshes of the
// same key share one fetch.
func (s *Service) revalidate(key string, header http.Header) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	header = header.Clone()
	go func() {
		defer s.wg.Done()
		_, err, _ := s.flight.Do(key, func() (any, error) {
			e, err := s.fetch(s.baseCtx, key, header)
			if err != nil {
				return nil, err
			}
			if e.Status != http.StatusOK {
				return nil, nil
			}
			return nil, s.storage.Put(s.baseCtx, s.CacheName(), key, e)
		})
		if err != nil {
			s.log.Debug("refresh failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// fetch requests key from the origin and reads the whole response.
func (s *Service) fetch(ctx context.Context, key string, header http.Header) (*Entry, error) {
	ref, err := url.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", key, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.origin.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, err
	}
	for _, h := range forwardHeaders {
		if v := header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", key, maxBodyBytes)
	}

	stored := http.Header{}
	for _, h := range storedHeaders {
		if v := resp.Header.Get(h); v != "" {
			stored.Set(h, v)
		}
	}
	return &Entry{Status: resp.StatusCode, Header: stored, Body: body, StoredAt: time.Now().UTC()}, nil
}

func writeEntry(w http.ResponseWriter, e *Entry, cacheState string) {
	for _, h := range storedHeaders {
		if v := e.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("X-Cache", cacheState)
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Body)))
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}
