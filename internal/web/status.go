package web

import (
	"time"

	"telemux/internal/gps"
	"telemux/internal/logsink"
	"telemux/internal/ntrip"
)

// Sources are polled on every status request. Nil sources are omitted from
// the response. Each must be safe to call from the HTTP goroutines.
type Sources struct {
	GPS     func() gps.Snapshot
	Relay   func() ntrip.Snapshot
	Log     func() logsink.Stats
	Forward func() (sent, failed uint64)
}

type Status struct {
	start   time.Time
	logPath string
	src     Sources
}

func NewStatus(logPath string, src Sources) *Status {
	return &Status{start: time.Now().UTC(), logPath: logPath, src: src}
}

type ForwardStats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

type StatusSnapshot struct {
	Service   string          `json:"service"`
	NowUTC    string          `json:"now_utc"`
	UptimeSec int64           `json:"uptime_sec"`
	LogPath   string          `json:"log_path"`
	GPS       *gps.Snapshot   `json:"gps,omitempty"`
	Relay     *ntrip.Snapshot `json:"relay,omitempty"`
	Log       *logsink.Stats  `json:"log,omitempty"`
	Forward   *ForwardStats   `json:"udp_forward,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	snap := StatusSnapshot{
		Service:   "telemux",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(s.start).Seconds()),
		LogPath:   s.logPath,
	}
	if s.src.GPS != nil {
		g := s.src.GPS()
		snap.GPS = &g
	}
	if s.src.Relay != nil {
		r := s.src.Relay()
		snap.Relay = &r
	}
	if s.src.Log != nil {
		l := s.src.Log()
		snap.Log = &l
	}
	if s.src.Forward != nil {
		sent, failed := s.src.Forward()
		snap.Forward = &ForwardStats{Sent: sent, Failed: failed}
	}
	return snap
}
