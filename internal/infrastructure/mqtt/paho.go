package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

// SUBACK and CONNACK return codes.
const (
	// subscribeFailure is the SUBACK return code for a rejected filter.
	subscribeFailure = 0x80

	// connAccepted and connRefusedMax bound the CONNACK codes a broker can
	// answer with. Paho uses codes above that range for local failures.
	connAccepted   = 0x00
	connRefusedMax = 0x05
)

// PahoDialer dials the broker with paho.mqtt.golang.
//
// Credential material is loaded once when the dialer is built, so bad
// certificate or key paths surface as a configuration error before any
// connection attempt.
type PahoDialer struct {
	cfg       config.MQTTConfig
	tlsConfig *tls.Config

	// newClient is replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// NewPahoDialer validates the broker settings and loads TLS material.
func NewPahoDialer(cfg config.MQTTConfig) (*PahoDialer, error) {
	if cfg.Broker.Hostname == "" {
		return nil, fmt.Errorf("%w: broker hostname is required", ErrInvalidConfig)
	}

	d := &PahoDialer{
		cfg:       cfg,
		newClient: pahomqtt.NewClient,
	}

	if cfg.Broker.TLS {
		tlsConfig, err := loadTLSConfig(cfg.Broker)
		if err != nil {
			return nil, err
		}
		d.tlsConfig = tlsConfig
	}

	return d, nil
}

// Dial performs one connection attempt.
func (d *PahoDialer) Dial(ctx context.Context, clientID string, handlers ConnHandlers) (Conn, error) {
	opts := buildClientOptions(d.cfg, clientID, d.tlsConfig)

	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if handlers.OnMessage != nil {
			handlers.OnMessage(fromPaho(msg))
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if handlers.OnConnectionLost != nil {
			handlers.OnConnectionLost(err)
		}
	})

	client := d.newClient(opts)
	token := client.Connect()
	err := waitToken(ctx, token)

	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		if code := ct.ReturnCode(); code > connAccepted && code <= connRefusedMax {
			client.Disconnect(0)
			return nil, &ConnectError{
				Ack: ConnAck{ReturnCode: code, SessionPresent: ct.SessionPresent()},
				Err: ErrConnectionFailed,
			}
		}
	}
	if err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &pahoConn{client: client}, nil
}

// pahoConn adapts a connected paho client to Conn.
type pahoConn struct {
	client pahomqtt.Client
}

func (c *pahoConn) Publish(ctx context.Context, msg OutboundMessage) error {
	token := c.client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (c *pahoConn) Subscribe(ctx context.Context, filter string, qos byte) error {
	// A nil callback routes messages to the default publish handler, which
	// also receives messages for subscriptions rejoined from a prior session.
	token := c.client.Subscribe(filter, qos, nil)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[filter]; found && code == subscribeFailure {
			return fmt.Errorf("%w: broker rejected filter %q", ErrSubscribeFailed, filter)
		}
	}
	return nil
}

func (c *pahoConn) Disconnect() error {
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// waitToken waits for a paho token or the context, whichever comes first.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

// fromPaho converts a paho message. MQTT 3.1.1 carries no user properties
// and cannot tell an empty body from a missing one, so an empty payload is
// reported as absent.
func fromPaho(msg pahomqtt.Message) Message {
	payload := msg.Payload()
	return Message{
		Topic:          msg.Topic(),
		Payload:        payload,
		PayloadPresent: len(payload) > 0,
		QoS:            msg.Qos(),
		Retain:         msg.Retained(),
		Duplicate:      msg.Duplicate(),
		MessageID:      msg.MessageID(),
	}
}
