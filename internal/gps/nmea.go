package gps

import (
	"math"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

const knotsToKmh = 1.852

type Snapshot struct {
	Valid bool `json:"valid"`

	FixTime    string   `json:"fix_time,omitempty"`
	LatDeg     float64  `json:"lat_deg"`
	LonDeg     float64  `json:"lon_deg"`
	AltM       *float64 `json:"alt_m,omitempty"`
	FixQuality string   `json:"fix_quality,omitempty"`
	FixType    string   `json:"fix_type,omitempty"`
	SpeedKmh   *float64 `json:"speed_kmh,omitempty"`
	TrackDeg   *float64 `json:"track_deg,omitempty"`

	Satellites *int     `json:"satellites,omitempty"`
	InView     *int     `json:"in_view,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	VDOP       *float64 `json:"vdop,omitempty"`
	PDOP       *float64 `json:"pdop,omitempty"`
	AvgSNR     *float64 `json:"avg_snr,omitempty"`

	Sentences  uint64 `json:"sentences"`
	Errors     uint64 `json:"errors"`
	LastFixUTC string `json:"last_fix_utc,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// State accumulates sentences. It is safe for concurrent use.
type State struct {
	mu sync.Mutex
	s  nmeaState
}

func NewState() *State {
	return &State{}
}

// Apply decodes one sentence and folds it in. Malformed sentences are
// counted and returned as errors; they never disturb the current fix.
func (st *State) Apply(now time.Time, line string) error {
	sent, err := nmea.Parse(line)

	st.mu.Lock()
	defer st.mu.Unlock()
	if err != nil {
		st.s.errors++
		st.s.lastErr = err.Error()
		return err
	}
	st.s.sentences++
	st.s.apply(now, sent)
	return nil
}

func (st *State) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.snapshot()
}

type nmeaState struct {
	fixTime string
	latDeg  float64
	lonDeg  float64
	posOK   bool

	altM    float64
	altOK   bool
	quality string
	fixType string

	speedKmh float64
	speedOK  bool
	trackDeg float64
	trackOK  bool

	sats    int
	satsOK  bool
	inView  int
	viewOK  bool
	hdop    float64
	hdopOK  bool
	vdop    float64
	pdop    float64
	dopsOK  bool
	avgSNR  float64
	snrOK   bool
	snrSum  int64
	snrSeen int64

	lastFix   time.Time
	sentences uint64
	errors    uint64
	lastErr   string
}

func (s *nmeaState) apply(now time.Time, sent nmea.Sentence) {
	switch m := sent.(type) {
	case nmea.GGA:
		s.applyGGA(now, m)
	case nmea.RMC:
		s.applyRMC(now, m)
	case nmea.GSA:
		s.fixType = fixTypeName(m.FixType)
		s.hdop, s.hdopOK = m.HDOP, true
		s.vdop, s.pdop, s.dopsOK = m.VDOP, m.PDOP, true
	case nmea.GSV:
		s.applyGSV(m)
	case nmea.VTG:
		s.speedKmh, s.speedOK = m.GroundSpeedKPH, true
		s.trackDeg, s.trackOK = normTrack(m.TrueTrack), true
	}
}

// GGA carries position, altitude and fix quality. Quality 0 means no fix.
func (s *nmeaState) applyGGA(now time.Time, m nmea.GGA) {
	s.quality = m.FixQuality
	if m.Time.Valid {
		s.fixTime = m.Time.String()
	}
	s.sats, s.satsOK = int(m.NumSatellites), true
	if m.FixQuality == nmea.Invalid {
		return
	}
	s.hdop, s.hdopOK = m.HDOP, true
	s.latDeg, s.lonDeg, s.posOK = m.Latitude, m.Longitude, true
	s.altM, s.altOK = m.Altitude, true
	s.lastFix = now
}

// RMC carries position and ground speed. Void fixes are ignored.
func (s *nmeaState) applyRMC(now time.Time, m nmea.RMC) {
	if m.Validity != nmea.ValidRMC {
		return
	}
	if m.Time.Valid {
		s.fixTime = m.Time.String()
	}
	s.latDeg, s.lonDeg, s.posOK = m.Latitude, m.Longitude, true
	s.speedKmh, s.speedOK = m.Speed*knotsToKmh, true
	s.trackDeg, s.trackOK = normTrack(m.Course), true
	s.lastFix = now
}

// GSV arrives as a numbered group; the SNR average is committed when the
// last message of a group lands.
func (s *nmeaState) applyGSV(m nmea.GSV) {
	if m.MessageNumber == 1 {
		s.snrSum, s.snrSeen = 0, 0
	}
	s.inView, s.viewOK = int(m.NumberSVsInView), true
	for _, sv := range m.Info {
		if sv.SNR > 0 {
			s.snrSum += sv.SNR
			s.snrSeen++
		}
	}
	if m.MessageNumber == m.TotalMessages && s.snrSeen > 0 {
		s.avgSNR = float64(s.snrSum) / float64(s.snrSeen)
		s.snrOK = true
	}
}

func (s *nmeaState) snapshot() Snapshot {
	out := Snapshot{
		Valid:      s.posOK,
		FixTime:    s.fixTime,
		LatDeg:     s.latDeg,
		LonDeg:     s.lonDeg,
		FixQuality: s.quality,
		FixType:    s.fixType,
		Sentences:  s.sentences,
		Errors:     s.errors,
		LastError:  s.lastErr,
	}
	if s.altOK {
		out.AltM = ptr(s.altM)
	}
	if s.speedOK {
		out.SpeedKmh = ptr(s.speedKmh)
	}
	if s.trackOK {
		out.TrackDeg = ptr(s.trackDeg)
	}
	if s.satsOK {
		out.Satellites = ptr(s.sats)
	}
	if s.viewOK {
		out.InView = ptr(s.inView)
	}
	if s.hdopOK {
		out.HDOP = ptr(s.hdop)
	}
	if s.dopsOK {
		out.VDOP = ptr(s.vdop)
		out.PDOP = ptr(s.pdop)
	}
	if s.snrOK {
		out.AvgSNR = ptr(s.avgSNR)
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func fixTypeName(t string) string {
	switch t {
	case nmea.Fix2D:
		return "2D"
	case nmea.Fix3D:
		return "3D"
	case nmea.FixNone:
		return "none"
	default:
		return t
	}
}

// QualityName describes a GGA fix quality code.
func QualityName(q string) string {
	switch q {
	case nmea.Invalid:
		return "invalid"
	case nmea.GPS:
		return "gps"
	case nmea.DGPS:
		return "dgps"
	case nmea.PPS:
		return "pps"
	case nmea.RTK:
		return "rtk"
	case nmea.FRTK:
		return "float-rtk"
	case "6":
		return "dead-reckoning"
	case "":
		return "unknown"
	default:
		return q
	}
}

func normTrack(deg float64) float64 {
	return math.Mod(deg+360.0, 360.0)
}

func ptr[T any](v T) *T {
	return &v
}
