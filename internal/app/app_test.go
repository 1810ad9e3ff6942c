package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/motion_ingest/internal/config"
	"github.com/relabs-tech/motion_ingest/internal/discovery"
	"github.com/relabs-tech/motion_ingest/internal/hub"
	"github.com/relabs-tech/motion_ingest/internal/ingest"
	"github.com/relabs-tech/motion_ingest/internal/orientation"
	"github.com/relabs-tech/motion_ingest/internal/registry"
)

var updated = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleReadings() []registry.Reading {
	return []registry.Reading{
		{Device: "papE", Values: []float64{12.5, -3}, Updated: updated},
		{Device: "luvaD", Values: []float64{7}, Updated: updated},
	}
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{err: p.err}
}

func TestNewDevicePayload_PoseOnlyWithTwoValues(t *testing.T) {
	payloads := newDevicePayloads(sampleReadings())
	require.Len(t, payloads, 2)

	require.NotNil(t, payloads[0].Pose)
	assert.Equal(t, orientation.Pose{Device: "papE", Pitch: 12.5, Roll: -3}, *payloads[0].Pose)
	assert.Nil(t, payloads[1].Pose)
}

func TestFormatPayload(t *testing.T) {
	payloads := newDevicePayloads(sampleReadings())
	assert.Equal(t, "[papE ]  PITCH=  12.50  ROLL=  -3.00  values=12.5 -3", formatPayload(payloads[0]))
	assert.Equal(t, "[luvaD]  values=7", formatPayload(payloads[1]))
}

func TestPublishReadings(t *testing.T) {
	pub := &fakePublisher{}
	require.NoError(t, publishReadings(pub, "papete/sensors", sampleReadings()))

	require.Len(t, pub.msgs, 3)
	assert.Equal(t, "papete/sensors/papE", pub.msgs[0].topic)
	assert.Equal(t, "papete/sensors/luvaD", pub.msgs[1].topic)
	assert.Equal(t, "papete/sensors", pub.msgs[2].topic)
	for _, m := range pub.msgs {
		assert.False(t, m.retained, "stale readings must not be retained on %s", m.topic)
	}

	var one DevicePayload
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &one))
	assert.Equal(t, []float64{12.5, -3}, one.Values)
	assert.True(t, one.Updated.Equal(updated))

	var all []DevicePayload
	require.NoError(t, json.Unmarshal(pub.msgs[2].payload, &all))
	assert.Len(t, all, 2)
}

func TestPublishReadings_EmptySnapshotStillPublished(t *testing.T) {
	pub := &fakePublisher{}
	require.NoError(t, publishReadings(pub, "t", nil))
	require.Len(t, pub.msgs, 1)
	assert.JSONEq(t, "[]", string(pub.msgs[0].payload))
}

func TestPublishReadings_StopsOnError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	err := publishReadings(pub, "t", sampleReadings())
	assert.ErrorContains(t, err, "publish papE")
	assert.Len(t, pub.msgs, 1)
}

func TestBridgeClientID_Unique(t *testing.T) {
	a, b := bridgeClientID("bridge"), bridgeClientID("bridge")
	assert.True(t, strings.HasPrefix(a, "bridge-"))
	assert.NotEqual(t, a, b)
}

func TestPrintSnapshot(t *testing.T) {
	b, err := json.Marshal(newDevicePayloads(sampleReadings()))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printSnapshot(&out, b))
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))

	out.Reset()
	require.NoError(t, printSnapshot(&out, []byte("[]")))
	assert.Contains(t, out.String(), "no active devices")

	assert.Error(t, printSnapshot(&out, []byte("{")))
}

func TestPrintReadings(t *testing.T) {
	var out bytes.Buffer
	printReadings(&out, sampleReadings())
	assert.Contains(t, out.String(), "[luvaD]")

	out.Reset()
	printReadings(&out, nil)
	assert.Contains(t, out.String(), "no active devices")
}

type lineSource struct {
	pose orientation.Pose
	err  error
}

func (s lineSource) Next() (orientation.Pose, error) { return s.pose, s.err }

type datagrams struct{ writes []string }

func (d *datagrams) Write(b []byte) (int, error) {
	d.writes = append(d.writes, string(b))
	return len(b), nil
}

func TestSendPoses_OneWritePerUnit(t *testing.T) {
	var d datagrams
	err := sendPoses(&d, []orientation.Source{
		lineSource{pose: orientation.Pose{Device: "papE", Pitch: 1, Roll: 2}},
		lineSource{pose: orientation.Pose{Device: "papD", Pitch: -1, Roll: 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"papE\t1.00\t2.00", "papD\t-1.00\t0.00"}, d.writes)

	matcher, err := ingest.NewPatternFilter(config.DefaultAcceptPattern)
	require.NoError(t, err)
	for _, line := range d.writes {
		assert.True(t, matcher.Accept(line), "simulated line %q must pass the default filter", line)
	}
}

func TestSendPoses_SourceError(t *testing.T) {
	var d datagrams
	err := sendPoses(&d, []orientation.Source{lineSource{err: errors.New("boom")}})
	assert.Error(t, err)
	assert.Empty(t, d.writes)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("loud")
	assert.ErrorIs(t, err, config.ErrInvalid)
}

type fakeView struct {
	readings     []registry.Reading
	conns        hub.Connections
	available    []string
	availableErr error

	mu           sync.Mutex
	disconnected []string
}

func (v *fakeView) Readings() []registry.Reading      { return v.readings }
func (v *fakeView) Connections() hub.Connections      { return v.conns }
func (v *fakeView) AvailablePorts() ([]string, error) { return v.available, v.availableErr }
func (v *fakeView) Disconnect(port string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if port != "/dev/ttyACM0" {
		return false
	}
	v.disconnected = append(v.disconnected, port)
	return true
}

func newTestServer(t *testing.T, view *fakeView) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "motion_ingest_test_total", Help: "test"}))
	srv := httptest.NewServer(newWebHandler(view, reg, 10*time.Millisecond, zaptest.NewLogger(t).Sugar()))
	t.Cleanup(srv.Close)
	return srv
}

func TestWeb_Devices(t *testing.T) {
	srv := newTestServer(t, &fakeView{readings: sampleReadings()})

	resp, err := http.Get(srv.URL + "/api/devices")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got []DevicePayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "papE", got[0].Device)
}

func TestWeb_Ports(t *testing.T) {
	view := &fakeView{
		available: []string{"/dev/ttyACM0", "/dev/ttyS0"},
		conns: hub.Connections{
			Active:      []string{"/dev/ttyACM0"},
			Blacklisted: []discovery.Quarantined{{Port: "/dev/ttyS0", Since: updated, Remaining: 4 * time.Second}},
		},
	}
	srv := newTestServer(t, view)

	resp, err := http.Get(srv.URL + "/api/ports")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.JSONEq(t, `["/dev/ttyACM0","/dev/ttyS0"]`, string(got["available"]))
	assert.JSONEq(t, `["/dev/ttyACM0"]`, string(got["active"]))
	assert.Contains(t, string(got["blacklisted"]), "/dev/ttyS0")
}

func TestWeb_PortsEnumerationError(t *testing.T) {
	srv := newTestServer(t, &fakeView{availableErr: errors.New("no sysfs")})
	resp, err := http.Get(srv.URL + "/api/ports")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestWeb_Disconnect(t *testing.T) {
	view := &fakeView{}
	srv := newTestServer(t, view)

	tests := []struct {
		query string
		want  int
	}{
		{"?port=/dev/ttyACM0", http.StatusNoContent},
		{"?port=/dev/ttyUSB3", http.StatusNotFound},
		{"", http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Post(srv.URL+"/api/ports/disconnect"+tt.query, "", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.want, resp.StatusCode, "query %q", tt.query)
	}
	assert.Equal(t, []string{"/dev/ttyACM0"}, view.disconnected)

	resp, err := http.Get(srv.URL + "/api/ports/disconnect?port=/dev/ttyACM0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWeb_Metrics(t *testing.T) {
	srv := newTestServer(t, &fakeView{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "motion_ingest_test_total")
}

func TestWeb_WebsocketStream(t *testing.T) {
	srv := newTestServer(t, &fakeView{readings: sampleReadings()})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 2; i++ {
		var got []DevicePayload
		require.NoError(t, conn.ReadJSON(&got))
		assert.Len(t, got, 2)
	}
}
