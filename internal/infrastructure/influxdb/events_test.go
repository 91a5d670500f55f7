package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *fakeWriter) last(t *testing.T) *write.Point {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.points)
	return w.points[len(w.points)-1]
}

func tags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func fields(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	c := newClient(w)
	c.now = func() time.Time { return fixedTime }
	return c, w
}

// =============================================================================
// Session events
// =============================================================================

func TestObserver_ConnectionFailure(t *testing.T) {
	c, w := newTestClient()

	c.Observer()(mqtt.Event{
		Kind:     mqtt.EventConnectionFailure,
		ClientID: "iotbridge-abc",
		Attempt:  3,
		Err:      errors.New("refused"),
		ConnAck:  &mqtt.ConnAck{ReturnCode: 5},
		Delay:    1500 * time.Millisecond,
	})

	p := w.last(t)
	assert.Equal(t, MeasurementSession, p.Name())
	assert.Equal(t, map[string]string{"event": "connection_failure"}, tags(p))

	f := fields(p)
	assert.Equal(t, "iotbridge-abc", f["client_id"])
	assert.EqualValues(t, 3, f["attempt"])
	assert.Equal(t, "refused", f["error"])
	assert.EqualValues(t, 5, f["return_code"])
	assert.EqualValues(t, 1500, f["delay_ms"])
	assert.Equal(t, fixedTime, p.Time())
}

func TestObserver_ReconnectsShareSeries(t *testing.T) {
	c, w := newTestClient()
	obs := c.Observer()

	obs(mqtt.Event{Kind: mqtt.EventAttemptingConnect, ClientID: "iotbridge-1", Attempt: 1})
	obs(mqtt.Event{Kind: mqtt.EventAttemptingConnect, ClientID: "iotbridge-2", Attempt: 2})

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.points, 2)
	assert.Equal(t, tags(w.points[0]), tags(w.points[1]))
	assert.NotEqual(t, fields(w.points[0])["client_id"], fields(w.points[1])["client_id"])
}

func TestObserver_UsesEventTime(t *testing.T) {
	c, w := newTestClient()
	at := fixedTime.Add(time.Hour)

	c.Observer()(mqtt.Event{Kind: mqtt.EventDisconnection, Uptime: time.Minute, Time: at})

	p := w.last(t)
	assert.Equal(t, at, p.Time())
	assert.EqualValues(t, 60000, fields(p)["uptime_ms"])
}

// =============================================================================
// Dispatch and routing
// =============================================================================

func TestRecordPublish(t *testing.T) {
	c, w := newTestClient()

	c.RecordPublish(context.Background(), "ok", 2*time.Millisecond)

	p := w.last(t)
	assert.Equal(t, MeasurementPublish, p.Name())
	assert.Equal(t, "ok", tags(p)["outcome"])
	assert.InDelta(t, 2.0, fields(p)["duration_ms"], 0.001)
}

func TestRecordReceived(t *testing.T) {
	c, w := newTestClient()

	c.RecordReceived(context.Background(), 1, 2)

	p := w.last(t)
	assert.Equal(t, MeasurementReceived, p.Name())
	assert.Equal(t, "1", tags(p)["qos"])
	assert.EqualValues(t, 2, fields(p)["matched"])
}

func TestRecordHandler(t *testing.T) {
	c, w := newTestClient()

	c.RecordHandler(context.Background(), "dev/#", time.Millisecond, errors.New("boom"))

	p := w.last(t)
	assert.Equal(t, MeasurementHandler, p.Name())
	assert.Equal(t, map[string]string{"pattern": "dev/#", "outcome": "error"}, tags(p))
	assert.Equal(t, "boom", fields(p)["error"])
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestClose_StopsWrites(t *testing.T) {
	c, w := newTestClient()

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
	assert.Equal(t, 1, w.flushes)

	c.RecordPublish(context.Background(), "ok", time.Millisecond)
	c.Flush()
	require.NoError(t, c.Close())

	assert.Empty(t, w.points)
	assert.Equal(t, 1, w.flushes)
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newTestClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	ch := make(chan error, 1)
	ch <- errors.New("bucket not found")
	close(ch)
	c.handleWriteErrors(ch)

	err := <-got
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Contains(t, err.Error(), "bucket not found")
}

func TestHealthCheck_NoServer(t *testing.T) {
	c, _ := newTestClient()
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)
}
