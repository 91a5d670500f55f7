package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/codec"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// defaultSubscribeTimeout bounds one startup subscribe. A subscribe that
// times out before the first connection stays tracked by the session and
// is issued once the broker accepts the connection.
const defaultSubscribeTimeout = 30 * time.Second

// Server subscribes the registry's patterns and routes inbound messages
// to their handlers.
type Server struct {
	registry *Registry
	router   *Router
	session  *lazySession
	logger   Logger

	subscribeTimeout time.Duration
	subscribing      sync.WaitGroup
}

// NewServer creates a Server for registry. It does not connect; call Listen.
//
// Returns an error if the router's decode fallback is not recognised.
func NewServer(cfg *config.Config, registry *Registry, opts ...Option) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("messaging: registry is required")
	}

	fallback, err := codec.ParseFallback(cfg.Router.DecodeFallback)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	router := newRouter(registry, fallback, cfg.Router.Workers, cfg.GetHandlerTimeout(), o)

	return &Server{
		registry:         registry,
		router:           router,
		session:          newLazySession(cfg.MQTT, o, mqtt.WithMessageHandler(router.HandleMessage)),
		logger:           o.logger,
		subscribeTimeout: defaultSubscribeTimeout,
	}, nil
}

// Router returns the server's router.
func (s *Server) Router() *Router {
	return s.router
}

// Session returns the server's session, or nil before a successful Listen.
func (s *Server) Session() *mqtt.Session {
	return s.session.current()
}

// Listen freezes the registry, starts the session and subscribes every
// enabled pattern, then calls onReady.
//
// Listen does not wait for the broker connection or for the subscribes.
// Each pattern is subscribed verbatim, wildcards included, in its own
// goroutine; the outcome is logged per pattern and a failed subscribe does
// not affect the others. Disabled patterns are logged and not subscribed.
//
// If the session cannot be created the error is logged and returned and
// onReady is not called. Calling Listen again reuses the session.
func (s *Server) Listen(ctx context.Context, onReady func()) error {
	s.registry.Freeze()

	session, err := s.session.ensure()
	if err != nil {
		return err
	}

	base := context.WithoutCancel(ctx)
	for _, reg := range s.registry.Registrations() {
		if reg.Extras.Disabled {
			s.logger.Info("subscription disabled", "pattern", reg.Pattern)
			continue
		}
		if err := mqtt.ValidateFilter(reg.Pattern); err != nil {
			s.logger.Warn("pattern is not a standard MQTT filter", "pattern", reg.Pattern, "error", err)
		}

		s.subscribing.Add(1)
		go s.subscribe(base, session, reg.Pattern)
	}

	if onReady != nil {
		onReady()
	}
	return nil
}

func (s *Server) subscribe(ctx context.Context, session *mqtt.Session, pattern string) {
	defer s.subscribing.Done()

	ctx, cancel := context.WithTimeout(ctx, s.subscribeTimeout)
	defer cancel()

	err := session.Subscribe(ctx, pattern, mqtt.QoSAtLeastOnce)
	switch {
	case err == nil:
		s.logger.Info("subscribed", "pattern", pattern)
	case errors.Is(err, mqtt.ErrNotConnected), errors.Is(err, mqtt.ErrTimeout):
		s.logger.Warn("subscribe pending until connected", "pattern", pattern, "error", err)
	case errors.Is(err, mqtt.ErrStopped):
		s.logger.Debug("subscribe abandoned, session stopped", "pattern", pattern)
	default:
		s.logger.Error("failed to subscribe", "pattern", pattern, "error", err)
	}
}

// Stop terminates the session. In-flight handlers are not waited for.
func (s *Server) Stop() error {
	err := s.session.stop()
	s.subscribing.Wait()
	return err
}
