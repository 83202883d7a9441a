package mux

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemux/internal/monitoring"
	"telemux/internal/queue"
	"telemux/internal/sensor"
	"telemux/internal/serialport"
)

func muteLogs(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

// recorder implements Presenter, Logger and SentenceSink and keeps every
// call in order.
type recorder struct {
	events []string
}

func (r *recorder) add(ev string) { r.events = append(r.events, ev) }

func (r *recorder) Sentence(s string) { r.add("show:" + s) }

func (r *recorder) Sample(s sensor.Sample) { r.add(fmt.Sprintf("show-sample:%d", s.TimeMs)) }

func (r *recorder) ParseError(line string, err error) { r.add("parse-error") }

func (r *recorder) Refresh() { r.add("refresh") }

func (r *recorder) LogSentence(raw string) { r.add("log:" + raw) }

func (r *recorder) LogCorrection(chunk []byte) { r.add(fmt.Sprintf("log-rtcm:%x", chunk)) }

func (r *recorder) LogSample(s sensor.Sample) { r.add(fmt.Sprintf("log-sample:%d", s.TimeMs)) }

type forwardRecorder struct{ got []string }

func (f *forwardRecorder) LogSentence(raw string) { f.got = append(f.got, raw) }

func newTestOrchestrator(t *testing.T, gps, sens *serialport.MockPort, q *queue.Queue[[]byte]) (*Orchestrator, *recorder, *forwardRecorder) {
	t.Helper()
	rec := &recorder{}
	fwd := &forwardRecorder{}
	cfg := Config{Presenter: rec, Logger: rec, Forward: []SentenceSink{fwd}, Corrections: q}
	if gps != nil {
		cfg.GPS = gps
	}
	if sens != nil {
		cfg.Sensor = sens
	}
	o, err := New(cfg)
	require.NoError(t, err)
	return o, rec, fwd
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Logger: &recorder{}})
	require.ErrorContains(t, err, "no serial devices")

	_, err = New(Config{GPS: serialport.NewMockPort()})
	require.ErrorContains(t, err, "logger is nil")

	_, err = New(Config{GPS: serialport.NewMockPort(), Logger: &recorder{}, RateHz: -1})
	require.Error(t, err)
}

func TestStep_SplitSentenceAcrossReads(t *testing.T) {
	gps := serialport.NewMockPort(
		serialport.MockRead{Data: []byte("$GPGGA,1,2*4")},
		serialport.MockRead{Data: []byte("7\r\n$GPRMC")},
	)
	o, rec, fwd := newTestOrchestrator(t, gps, nil, nil)

	require.NoError(t, o.Step())
	assert.Equal(t, []string{"refresh"}, rec.events)

	require.NoError(t, o.Step())
	assert.Equal(t, []string{
		"refresh",
		"show:$GPGGA,1,2*47\r\n", "log:$GPGGA,1,2*47\r\n",
		"refresh",
	}, rec.events)
	assert.Equal(t, []string{"$GPGGA,1,2*47\r\n"}, fwd.got)
	assert.Equal(t, "$GPRMC", string(o.gpsFrames.Pending()))
}

func TestStep_OrderGPSThenSensorThenCorrections(t *testing.T) {
	gps := serialport.NewMockPort(serialport.MockRead{Data: []byte("$GPGSA*00\r\n")})
	sens := serialport.NewMockPort(serialport.MockRead{Data: []byte("1000,0.1,0.2,0.3,150.0,20.0,21.0\r\n")})
	q := queue.New[[]byte]()
	require.NoError(t, q.Push([]byte{0xD3, 0x00, 0x13}))
	require.NoError(t, q.Push([]byte{0xAA}))

	o, rec, _ := newTestOrchestrator(t, gps, sens, q)
	require.NoError(t, o.Step())

	assert.Equal(t, []string{
		"show:$GPGSA*00\r\n", "log:$GPGSA*00\r\n",
		"show-sample:1000", "log-sample:1000",
		"log-rtcm:d30013", "log-rtcm:aa",
		"refresh",
	}, rec.events)

	// Every chunk is written and flushed before the next one.
	assert.Equal(t, []byte{0xD3, 0x00, 0x13, 0xAA}, gps.Written())
	assert.Equal(t, []string{"write", "drain", "write", "drain"}, gps.Events())
	assert.Equal(t, 0, q.Len())

	st := o.Stats()
	assert.Equal(t, uint64(1), st.Sentences)
	assert.Equal(t, uint64(1), st.Samples)
	assert.Equal(t, uint64(2), st.Corrections)
	assert.Equal(t, uint64(4), st.CorrectionBytes)
}

func TestStep_MalformedSensorLineSkipped(t *testing.T) {
	muteLogs(t)
	sens := serialport.NewMockPort(serialport.MockRead{Data: []byte("1,2,3,4,5,6\r\n\r\n7,0,0,0,0,0,0\r\n")})
	o, rec, _ := newTestOrchestrator(t, nil, sens, nil)

	require.NoError(t, o.Step())
	assert.Equal(t, []string{"parse-error", "show-sample:7", "log-sample:7", "refresh"}, rec.events)
	assert.Equal(t, uint64(1), o.Stats().ParseErrors)
}

func TestStep_GPSReadErrorAbandonsIteration(t *testing.T) {
	muteLogs(t)
	boom := errors.New("device reports readiness but returned no data")
	gps := serialport.NewMockPort(serialport.MockRead{Err: boom})
	sens := serialport.NewMockPort(serialport.MockRead{Data: []byte("1,0,0,0,0,0,0\r\n")})
	q := queue.New[[]byte]()
	require.NoError(t, q.Push([]byte{0x01}))

	o, rec, _ := newTestOrchestrator(t, gps, sens, q)
	err := o.Step()
	require.ErrorIs(t, err, boom)

	// Nothing after the failed read ran: no sensor poll, no drain, no refresh.
	assert.Empty(t, rec.events)
	assert.Equal(t, 0, sens.ReadCalls)
	assert.Equal(t, 1, q.Len())
	assert.Empty(t, gps.Written())
	assert.Equal(t, uint64(1), o.Stats().Abandoned)

	// The next iteration picks everything up.
	require.NoError(t, o.Step())
	assert.Equal(t, []string{"show-sample:1", "log-sample:1", "log-rtcm:01", "refresh"}, rec.events)
}

func TestStep_SensorReadErrorAbandonsIteration(t *testing.T) {
	muteLogs(t)
	gps := serialport.NewMockPort(serialport.MockRead{Data: []byte("$GPGGA*00\r\n")})
	sens := serialport.NewMockPort(serialport.MockRead{Err: errors.New("io")})
	q := queue.New[[]byte]()
	require.NoError(t, q.Push([]byte{0x01}))

	o, rec, _ := newTestOrchestrator(t, gps, sens, q)
	require.Error(t, o.Step())

	// GPS output of this iteration was already dispatched; corrections wait.
	assert.Equal(t, []string{"show:$GPGGA*00\r\n", "log:$GPGGA*00\r\n"}, rec.events)
	assert.Equal(t, 1, q.Len())
}

func TestStep_SentencesReadWithErrorAreDelivered(t *testing.T) {
	muteLogs(t)
	eio := errors.New("EIO")
	gps := serialport.NewMockPort(
		serialport.MockRead{Data: []byte("$GPGGA,1*47\r\n$GPR"), Err: eio},
		serialport.MockRead{Data: []byte("MC,2*00\r\n")},
	)
	o, rec, fwd := newTestOrchestrator(t, gps, nil, nil)

	require.ErrorIs(t, o.Step(), eio)
	assert.Equal(t, []string{"show:$GPGGA,1*47\r\n", "log:$GPGGA,1*47\r\n"}, rec.events)

	require.NoError(t, o.Step())
	assert.Equal(t, []string{
		"show:$GPGGA,1*47\r\n", "log:$GPGGA,1*47\r\n",
		"show:$GPRMC,2*00\r\n", "log:$GPRMC,2*00\r\n",
		"refresh",
	}, rec.events)
	assert.Equal(t, []string{"$GPGGA,1*47\r\n", "$GPRMC,2*00\r\n"}, fwd.got)
	assert.Equal(t, uint64(2), o.Stats().Sentences)
}

func TestStep_SensorLinesReadWithErrorAreDelivered(t *testing.T) {
	muteLogs(t)
	sens := serialport.NewMockPort(serialport.MockRead{Data: []byte("5,0,0,0,0,0,0\r\n6,0"), Err: errors.New("EIO")})
	o, rec, _ := newTestOrchestrator(t, nil, sens, nil)

	require.Error(t, o.Step())
	assert.Equal(t, []string{"show-sample:5", "log-sample:5"}, rec.events)
	assert.Equal(t, uint64(1), o.Stats().Samples)
}

func TestStep_ReadErrorsLoggedOncePerStreak(t *testing.T) {
	var logged []string
	orig := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, fmt.Sprintf(format, v...)) })
	defer func() { monitoring.Logf = orig }()

	boom := errors.New("boom")
	gps := serialport.NewMockPort(
		serialport.MockRead{Err: boom},
		serialport.MockRead{Err: boom},
		serialport.MockRead{Err: boom},
	)
	o, _, _ := newTestOrchestrator(t, gps, nil, nil)
	for i := 0; i < 4; i++ {
		_ = o.Step()
	}
	assert.Equal(t, []string{"gps read failed: boom", "gps reads recovered"}, logged)
}

func TestStep_CorrectionWriteErrorKeepsDraining(t *testing.T) {
	muteLogs(t)
	gps := serialport.NewMockPort()
	gps.WriteErr = errors.New("write failed")
	q := queue.New[[]byte]()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push([]byte{byte(i)}))
	}

	o, rec, _ := newTestOrchestrator(t, gps, nil, q)
	require.NoError(t, o.Step())
	assert.Equal(t, []string{"log-rtcm:00", "log-rtcm:01", "log-rtcm:02", "refresh"}, rec.events)
	assert.Equal(t, uint64(3), o.Stats().WriteErrors)
	assert.Equal(t, 0, q.Len())
}

func TestStep_ClosedCorrectionQueue(t *testing.T) {
	muteLogs(t)
	gps := serialport.NewMockPort()
	q := queue.New[[]byte]()
	require.NoError(t, q.Push([]byte{0x01}))
	q.Close()

	o, rec, _ := newTestOrchestrator(t, gps, nil, q)
	require.NoError(t, o.Step())
	require.NoError(t, o.Step())
	assert.Equal(t, []string{"log-rtcm:01", "refresh", "refresh"}, rec.events)
	assert.True(t, o.relayGone)
}

func TestRun_StopsOnCancel(t *testing.T) {
	gps := serialport.NewMockPort()
	rec := &recorder{}
	o, err := New(Config{GPS: gps, Logger: rec, RateHz: 1000})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	assert.Positive(t, gps.ReadCalls)
}
