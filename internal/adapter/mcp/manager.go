package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/tools"
)

// Manager owns the connected MCP servers.
type Manager struct {
	mu      sync.Mutex
	sources []*Source
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Connect dials every configured server and registers its tools. Servers that
// cannot be reached are logged and skipped.
func Connect(ctx context.Context, cfg config.MCPConfig, r *tools.Registry) *Manager {
	m := &Manager{}
	opts := Options{CallTimeout: cfg.CallTimeout, OutputLimit: cfg.OutputLimit}
	for _, sc := range cfg.Servers {
		src, err := Dial(ctx, sc, opts)
		if err != nil {
			log.Warn().Err(err).Str("server", sc.Name).Str("url", sc.URL).Msg("mcp server unavailable")
			continue
		}
		m.Add(ctx, src, r)
	}
	return m
}

// Add registers the tools of src and keeps it for keep-alive and shutdown.
func (m *Manager) Add(ctx context.Context, src *Source, r *tools.Registry) {
	n, err := src.Register(ctx, r)
	if err != nil {
		log.Warn().Err(err).Str("server", src.Name()).Msg("failed to load mcp tools")
	}
	log.Info().Str("server", src.Name()).Int("tools", n).Msg("mcp server connected")

	m.mu.Lock()
	m.sources = append(m.sources, src)
	m.mu.Unlock()
}

// Sources returns the connected servers.
func (m *Manager) Sources() []*Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Source(nil), m.sources...)
}

// StartKeepAlive pings every server at interval until Close.
func (m *Manager) StartKeepAlive(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	sources := append([]*Source(nil), m.sources...)
	m.mu.Unlock()

	for _, src := range sources {
		m.wg.Add(1)
		go func(s *Source) {
			defer m.wg.Done()
			s.KeepAlive(ctx, interval)
		}(src)
	}
}

// Close stops keep-alives and closes every connection.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	sources := m.sources
	m.sources = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	for _, src := range sources {
		if err := src.Close(); err != nil {
			log.Warn().Err(err).Str("server", src.Name()).Msg("failed to close mcp client")
		}
	}
}
