package influxdb

import (
	"context"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Measurement names written by the sink.
const (
	MeasurementSession  = "mqtt_session"
	MeasurementPublish  = "mqtt_publish"
	MeasurementReceived = "mqtt_received"
	MeasurementHandler  = "mqtt_handler"
)

// Observer returns a session observer that writes one point per lifecycle event.
func (c *Client) Observer() mqtt.Observer {
	return func(ev mqtt.Event) {
		// The client identifier changes on every attempt, so it is a field;
		// as a tag it would open a new series per reconnect.
		fields := map[string]interface{}{
			"attempt": ev.Attempt,
		}
		if ev.ClientID != "" {
			fields["client_id"] = ev.ClientID
		}
		if ev.Err != nil {
			fields["error"] = ev.Err.Error()
		}
		if ev.ConnAck != nil {
			fields["return_code"] = int(ev.ConnAck.ReturnCode)
			fields["session_present"] = ev.ConnAck.SessionPresent
		}
		if ev.Delay > 0 {
			fields["delay_ms"] = ev.Delay.Milliseconds()
		}
		if ev.Uptime > 0 {
			fields["uptime_ms"] = ev.Uptime.Milliseconds()
		}

		ts := ev.Time
		if ts.IsZero() {
			ts = c.now()
		}

		c.writePoint(MeasurementSession, map[string]string{
			"event": ev.Kind.String(),
		}, fields, ts)
	}
}

// RecordPublish writes one outbound publish outcome.
func (c *Client) RecordPublish(_ context.Context, outcome string, d time.Duration) {
	c.writePoint(MeasurementPublish,
		map[string]string{"outcome": outcome},
		map[string]interface{}{"duration_ms": float64(d) / float64(time.Millisecond)},
		c.now(),
	)
}

// RecordReceived writes one inbound message.
func (c *Client) RecordReceived(_ context.Context, qos byte, matched int) {
	c.writePoint(MeasurementReceived,
		map[string]string{"qos": strconv.Itoa(int(qos))},
		map[string]interface{}{"matched": matched},
		c.now(),
	)
}

// RecordHandler writes one handler invocation.
func (c *Client) RecordHandler(_ context.Context, pattern string, d time.Duration, err error) {
	outcome := "ok"
	fields := map[string]interface{}{
		"duration_ms": float64(d) / float64(time.Millisecond),
	}
	if err != nil {
		outcome = "error"
		fields["error"] = err.Error()
	}
	c.writePoint(MeasurementHandler,
		map[string]string{"pattern": pattern, "outcome": outcome},
		fields,
		c.now(),
	)
}
