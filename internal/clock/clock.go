// Package clock provides time that is anchored to the portal server rather
// than the local wall clock, so users cannot reorder comments or fake their
// age by changing system time.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Time is a trusted instant. Unix is seconds since the epoch.
type Time struct {
	Unix      int64     `json:"unix"`
	Timestamp time.Time `json:"timestamp"`
}

func at(ts time.Time) Time {
	return Time{Unix: ts.Unix(), Timestamp: ts}
}

// Source reports the server's idea of now.
type Source interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Service tracks the offset between the local monotonic clock and the
// trusted source.
type Service struct {
	source Source
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	offset   time.Duration
	synced   bool
	lastTick time.Time
}

func New(source Source, log *zap.Logger) *Service {
	return &Service{
		source: source,
		log:    log.Named("clock"),
		now:    time.Now,
	}
}

// Sync measures the server offset, compensating for half the round trip.
func (s *Service) Sync(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("clock sync: no trusted source configured")
	}
	sent := s.now()
	server, err := s.source.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("clock sync: %w", err)
	}
	received := s.now()
	midpoint := sent.Add(received.Sub(sent) / 2)
	offset := server.Sub(midpoint)

	s.mu.Lock()
	s.offset = offset
	s.synced = true
	s.mu.Unlock()

	s.log.Debug("clock synced", zap.Duration("offset", offset), zap.Duration("rtt", received.Sub(sent)))
	return nil
}

func (s *Service) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

// Now returns the current trusted time.
func (s *Service) Now() Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return at(s.current())
}

// NextTick returns a trusted time with millisecond precision that is strictly
// later than any tick returned before. Placeholder ids for pending comments
// are derived from it.
func (s *Service) NextTick() Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	tick := s.current().Truncate(time.Millisecond)
	if !tick.After(s.lastTick) {
		tick = s.lastTick.Add(time.Millisecond)
	}
	s.lastTick = tick
	return at(tick)
}

func (s *Service) current() time.Time {
	return s.now().Add(s.offset).UTC()
}

// Relative renders how long ago ts was, measured against trusted time.
func (s *Service) Relative(ts time.Time) string {
	return relative(s.Now().Timestamp, ts)
}

func relative(now, value time.Time) string {
	minutes := int(now.Sub(value).Minutes())
	if minutes < 1 {
		return "just now"
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	days := hours / 24
	return fmt.Sprintf("%dd ago", days)
}

// HTTPSource reads the trusted time from the portal's time endpoint.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{URL: strings.TrimRight(baseURL, "/") + "/api/time", Client: client}
}

func (h *HTTPSource) ServerTime(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build time request: %w", err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch server time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("fetch server time: status %d", resp.StatusCode)
	}
	var body Time
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("decode server time: %w", err)
	}
	if !body.Timestamp.IsZero() {
		return body.Timestamp, nil
	}
	if body.Unix > 0 {
		return time.Unix(body.Unix, 0), nil
	}
	return time.Time{}, fmt.Errorf("decode server time: empty payload")
}
