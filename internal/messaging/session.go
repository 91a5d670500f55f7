package messaging

import (
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// lazySession creates the broker session on first use and keeps it for
// the lifetime of its owner. It is never replaced.
type lazySession struct {
	cfg     config.MQTTConfig
	factory DialerFactory
	opts    []mqtt.SessionOption
	logger  Logger

	mu      sync.Mutex
	session *mqtt.Session
}

func newLazySession(cfg config.MQTTConfig, o *options, extra ...mqtt.SessionOption) *lazySession {
	sessionOpts := make([]mqtt.SessionOption, 0, len(o.sessionOpts)+len(extra))
	sessionOpts = append(sessionOpts, o.sessionOpts...)
	sessionOpts = append(sessionOpts, extra...)
	return &lazySession{
		cfg:     cfg,
		factory: o.dialerFactory,
		opts:    sessionOpts,
		logger:  o.logger,
	}
}

// ensure returns the session, creating and starting it if needed.
//
// Construction failures (bad endpoint, unreadable credentials) are logged
// and returned, and the session stays unset; callers of current then see
// ErrNotConnected instead of a nil session.
func (l *lazySession) ensure() (*mqtt.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil {
		return l.session, nil
	}

	dialer, err := l.factory(l.cfg)
	if err != nil {
		l.logger.Error("failed to create MQTT session", "error", err)
		return nil, fmt.Errorf("creating MQTT transport: %w", err)
	}

	session, err := mqtt.NewSession(l.cfg, dialer, l.opts...)
	if err != nil {
		l.logger.Error("failed to create MQTT session", "error", err)
		return nil, fmt.Errorf("creating MQTT session: %w", err)
	}
	session.OnAny(mqtt.LogObserver(l.logger))

	if err := session.Start(); err != nil {
		l.logger.Error("failed to start MQTT session", "error", err)
		return nil, fmt.Errorf("starting MQTT session: %w", err)
	}

	l.session = session
	l.logger.Info("MQTT session started", "broker", l.cfg.Broker.Hostname)
	return session, nil
}

// current returns the session or nil if none was created.
func (l *lazySession) current() *mqtt.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// stop terminates the session if one exists. Teardown failures are logged
// and returned.
func (l *lazySession) stop() error {
	session := l.current()
	if session == nil {
		return nil
	}

	if err := session.Stop(); err != nil {
		l.logger.Error("failed to close MQTT session", "error", err)
		return err
	}
	return nil
}
