package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telemux/internal/gps"
	"telemux/internal/logsink"
	"telemux/internal/ntrip"
)

func TestAPIStatus(t *testing.T) {
	st := NewStatus("telemetry.csv", Sources{
		GPS:     func() gps.Snapshot { return gps.Snapshot{Valid: true, FixQuality: "rtk", Sentences: 12} },
		Relay:   func() ntrip.Snapshot { return ntrip.Snapshot{Mount: "VMAX", State: ntrip.StateStreaming, Bytes: 4096} },
		Log:     func() logsink.Stats { return logsink.Stats{Written: 40} },
		Forward: func() (uint64, uint64) { return 12, 1 },
	})

	ts := httptest.NewServer(Handler(st, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "telemux" || snap.LogPath != "telemetry.csv" {
		t.Fatalf("service=%q log_path=%q", snap.Service, snap.LogPath)
	}
	if snap.GPS == nil || !snap.GPS.Valid || snap.GPS.FixQuality != "rtk" {
		t.Fatalf("gps=%+v", snap.GPS)
	}
	if snap.Relay == nil || snap.Relay.State != ntrip.StateStreaming || snap.Relay.Bytes != 4096 {
		t.Fatalf("relay=%+v", snap.Relay)
	}
	if snap.Log == nil || snap.Log.Written != 40 {
		t.Fatalf("log=%+v", snap.Log)
	}
	if snap.Forward == nil || snap.Forward.Sent != 12 || snap.Forward.Failed != 1 {
		t.Fatalf("forward=%+v", snap.Forward)
	}
}

func TestAPIStatus_OmitsMissingSources(t *testing.T) {
	st := NewStatus("x.csv", Sources{})
	snap := st.Snapshot(time.Now().Add(3 * time.Second))
	if snap.GPS != nil || snap.Relay != nil || snap.Log != nil || snap.Forward != nil {
		t.Fatalf("expected empty sources, got %+v", snap)
	}
	if snap.UptimeSec < 2 {
		t.Fatalf("uptime=%d", snap.UptimeSec)
	}
}

func TestAPIStatus_RejectsPost(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus("", Sources{}), nil))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestAPILogs(t *testing.T) {
	logs := NewLogBuffer(3)
	_, _ = io.WriteString(logs, "ntrip connecting addr=a\nntrip streaming")
	_, _ = io.WriteString(logs, " mount=M\r\ngps open failed\nlog writes recovered\n")

	lines, dropped := logs.Snapshot(10)
	want := []string{"ntrip streaming mount=M", "gps open failed", "log writes recovered"}
	if strings.Join(lines, "|") != strings.Join(want, "|") || dropped != 1 {
		t.Fatalf("lines=%q dropped=%d", lines, dropped)
	}

	ts := httptest.NewServer(Handler(NewStatus("", Sources{}), logs))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?tail=2&format=text")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "[dropped=1]\ngps open failed\nlog writes recovered\n" {
		t.Fatalf("body=%q", body)
	}

	resp, err = http.Get(ts.URL + "/api/logs?tail=0")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestAPILogs_Unavailable(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus("", Sources{}), nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}
