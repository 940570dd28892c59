package docfold

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Server hot-swaps docfold instances behind a stable http.Handler so asset
// edits can be picked up with Reload instead of a process restart.
type Server interface {
	Instance() *Instance
	Serve(listenAddr string) error
	Handler() http.Handler
	Reload() error
}

// Server builds a new docfold server and loads its first instance.
func (config Config) Server(opts ...Option) (Server, error) {
	cfg, err := config.Defaults().Options(opts...)
	if err != nil {
		return nil, err
	}
	cfg.Logger = cfg.Logger.WithGroup("docfold")

	server := &swapServer{config: *cfg}
	if err := server.Reload(); err != nil {
		return nil, err
	}
	return server, nil
}

type swapServer struct {
	instance atomic.Pointer[Instance]
	cancel   func()

	mutex sync.Mutex
	// config is the base configuration. Reload copies it for each new
	// instance; it is never mutated so every instance context descends
	// from the original Ctx rather than from the previous instance's.
	config Config
}

var _ = (Server)((*swapServer)(nil))

func (s *swapServer) Instance() *Instance {
	return s.instance.Load()
}

func (s *swapServer) Serve(listenAddr string) error {
	s.config.Logger.Info("starting server", slog.String("listen", listenAddr))
	return http.ListenAndServe(listenAddr, s.Handler())
}

func (s *swapServer) Handler() http.Handler {
	// Indirect through Instance() on every request so reloads take effect
	// without re-registering the handler.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Instance().ServeHTTP(w, r)
	})
}

func (s *swapServer) Reload() error {
	start := time.Now()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	log := s.config.Logger.WithGroup("reload")
	old := s.instance.Load()
	if old != nil {
		log = log.With(slog.Int64("old_id", old.Id()))
	}

	cfg := s.config
	var newcancel func()
	cfg.Ctx, newcancel = context.WithCancel(s.config.Ctx)

	instance, _, err := cfg.Instance()
	if err != nil {
		newcancel()
		log.Info("failed to load", slog.Any("error", err), slog.Duration("rebuild_time", time.Since(start)))
		return err
	}

	s.instance.CompareAndSwap(old, instance)
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = newcancel

	log.Info("rebuild succeeded", slog.Int64("new_id", instance.Id()), slog.Duration("rebuild_time", time.Since(start)))
	return nil
}
