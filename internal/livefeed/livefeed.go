// Package livefeed forwards relayed-message views to an external dashboard.
//
// It subscribes to the event bus, so the relay core has zero knowledge of
// the dashboard. Delivery is strictly best-effort: failures are logged at
// debug and dropped, never propagated.
package livefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Enabled bool
	URL     string
	Timeout time.Duration
}

type Service struct {
	cfg  Config
	bus  eventbus.Bus
	log  logx.Logger
	http *http.Client

	mu     sync.Mutex
	unsub  func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Service{cfg: cfg, bus: bus, log: log, http: &http.Client{Timeout: timeout}}
}

func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled || strings.TrimSpace(s.cfg.URL) == "" {
		s.log.Debug("live feed disabled")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ch, unsub := s.bus.Subscribe(64)
	runCtx, cancel := context.WithCancel(ctx)
	s.unsub = unsub
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drain(runCtx, ch)
	}()
	s.log.Info("live feed started", logx.String("url", s.cfg.URL))
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	unsub := s.unsub
	s.cancel = nil
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}

func (s *Service) drain(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Type != eventbus.EventRelayed {
				continue
			}
			view, ok := e.Data.(relay.MessageView)
			if !ok {
				continue
			}
			s.post(ctx, e.ID, view)
		}
	}
}

func (s *Service) post(ctx context.Context, eventID string, view relay.MessageView) {
	body := struct {
		EventID string `json:"event_id"`
		relay.MessageView
	}{EventID: eventID, MessageView: view}

	b, err := json.Marshal(body)
	if err != nil {
		s.log.Debug("live feed marshal failed", logx.Err(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(b))
	if err != nil {
		s.log.Debug("live feed request failed", logx.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		s.log.Debug("live feed post failed", logx.Err(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		s.log.Debug("live feed rejected", logx.Int("status", resp.StatusCode))
	}
}
