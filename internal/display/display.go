// Package display renders the latest telemetry snapshot in place on a
// terminal: GPS fix, latest sensor sample, relay and log status.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"telemux/internal/gps"
	"telemux/internal/logsink"
	"telemux/internal/monitoring"
	"telemux/internal/ntrip"
	"telemux/internal/sensor"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type Options struct {
	// Refresh is the minimum interval between redraws.
	Refresh time.Duration
	// Relay and Log report component status; either may be nil.
	Relay func() ntrip.Snapshot
	Log   func() logsink.Stats
}

// Display collects what the orchestrator observes and redraws it. A
// Display with a nil writer still collects state; Refresh is then a no-op.
type Display struct {
	w    io.Writer
	opts Options
	now  func() time.Time

	gps *gps.State

	mu          sync.Mutex
	sample      sensor.Sample
	haveSample  bool
	samples     uint64
	parseErrors uint64
	lastParse   string

	prevLines   int
	lastDraw    time.Time
	writeFailed bool
}

func New(w io.Writer, opts Options) *Display {
	return &Display{
		w:    w,
		opts: opts,
		now:  time.Now,
		gps:  gps.NewState(),
	}
}

// Sentence folds one NMEA sentence into the GPS snapshot. Sentences that do
// not decode are only counted.
func (d *Display) Sentence(s string) {
	_ = d.gps.Apply(d.now(), strings.TrimSpace(s))
}

func (d *Display) Sample(s sensor.Sample) {
	d.mu.Lock()
	d.sample = s
	d.haveSample = true
	d.samples++
	d.mu.Unlock()
}

func (d *Display) ParseError(line string, err error) {
	d.mu.Lock()
	d.parseErrors++
	d.lastParse = err.Error()
	d.mu.Unlock()
}

func (d *Display) GPS() gps.Snapshot {
	return d.gps.Snapshot()
}

// Refresh redraws when the refresh interval has elapsed since the last draw.
func (d *Display) Refresh() {
	if d.w == nil {
		return
	}
	now := d.now()
	if !d.lastDraw.IsZero() && now.Sub(d.lastDraw) < d.opts.Refresh {
		return
	}
	d.lastDraw = now
	d.draw()
}

func (d *Display) draw() {
	frame := d.Render()
	var b strings.Builder
	if d.prevLines > 0 {
		b.WriteString(ansi.CursorUp(d.prevLines))
		b.WriteString("\r")
		b.WriteString(ansi.EraseScreenBelow)
	}
	b.WriteString(frame)
	b.WriteString("\n")

	if _, err := io.WriteString(d.w, b.String()); err != nil {
		if !d.writeFailed {
			monitoring.Logf("display write failed: %v", err)
		}
		d.writeFailed = true
		return
	}
	d.writeFailed = false
	d.prevLines = strings.Count(frame, "\n") + 1
}

type item struct {
	label string
	value string
	unit  string
	style *lipgloss.Style
}

// Render formats the current snapshot without cursor control.
func (d *Display) Render() string {
	g := d.gps.Snapshot()

	d.mu.Lock()
	sample, haveSample := d.sample, d.haveSample
	samples, parseErrors, lastParse := d.samples, d.parseErrors, d.lastParse
	d.mu.Unlock()

	var sections [][]item
	sections = append(sections, []item{
		{label: "Fix Time", value: orDash(g.FixTime)},
		{label: "Latitude", value: fmtPos(g.Valid, g.LatDeg)},
		{label: "Longitude", value: fmtPos(g.Valid, g.LonDeg)},
		{label: "Altitude", value: fmtFloat(g.AltM, 1), unit: "m"},
		{label: "Fix Type", value: fixDesc(g)},
		{label: "Speed", value: fmtFloat(g.SpeedKmh, 1), unit: "km/h"},
		{label: "Satellites", value: fmtSats(g)},
		{label: "HDOP", value: fmtFloat(g.HDOP, 2)},
		{label: "VDOP", value: fmtFloat(g.VDOP, 2)},
		{label: "PDOP", value: fmtFloat(g.PDOP, 2)},
		{label: "Avg SNR", value: fmtFloat(g.AvgSNR, 0), unit: "dB-Hz"},
		{label: "Sentences", value: fmt.Sprintf("%d ok, %d bad", g.Sentences, g.Errors)},
	})

	sensorItems := []item{{label: "Samples", value: fmt.Sprintf("%d", samples)}}
	if haveSample {
		sensorItems = append(sensorItems,
			item{label: "Board Time", value: fmt.Sprintf("%d", sample.TimeMs), unit: "ms"},
			item{label: "Roll/Pitch/Yaw", value: fmt.Sprintf("%.2f / %.2f / %.2f", sample.Roll, sample.Pitch, sample.Yaw), unit: "deg"},
			item{label: "Sonar", value: fmt.Sprintf("%.0f", sample.SonarMm), unit: "mm"},
			item{label: "ToF 1 / ToF 2", value: fmt.Sprintf("%.0f / %.0f", sample.Tof1Mm, sample.Tof2Mm), unit: "mm"},
		)
	}
	pe := item{label: "Parse Errors", value: fmt.Sprintf("%d", parseErrors)}
	if parseErrors > 0 {
		pe.value += " (" + lastParse + ")"
		pe.style = &warnStyle
	}
	sensorItems = append(sensorItems, pe)
	sections = append(sections, sensorItems)

	status := []item{d.relayItem()}
	if d.opts.Log != nil {
		st := d.opts.Log()
		it := item{label: "Log", value: fmt.Sprintf("%d written, %d pending", st.Written, st.Pending)}
		if st.Failed > 0 {
			it.value += fmt.Sprintf(", %d failed", st.Failed)
			it.style = &warnStyle
		}
		status = append(status, it)
	}
	sections = append(sections, status)

	width := 0
	for _, sec := range sections {
		for _, it := range sec {
			if w := ansi.StringWidth(it.label); w > width {
				width = w
			}
		}
	}

	titles := []string{"=== GPS DATA ===", "=== SENSOR ===", "=== LINKS ==="}
	var lines []string
	for i, sec := range sections {
		lines = append(lines, headerStyle.Render(titles[i]))
		for _, it := range sec {
			lines = append(lines, renderItem(it, width))
		}
	}
	return strings.Join(lines, "\n")
}

func (d *Display) relayItem() item {
	if d.opts.Relay == nil {
		return item{label: "NTRIP", value: "disabled", style: &dimStyle}
	}
	snap := d.opts.Relay()
	it := item{label: "NTRIP", value: fmt.Sprintf("%s %s (%d bytes)", snap.State, snap.Mount, snap.Bytes)}
	if snap.State == ntrip.StateBackingOff && snap.LastError != "" {
		it.value += " " + snap.LastError
		it.style = &warnStyle
	}
	return it
}

func renderItem(it item, width int) string {
	label := it.label + strings.Repeat(" ", width-ansi.StringWidth(it.label))
	style := valueStyle
	if it.style != nil {
		style = *it.style
	}
	line := label + ": " + style.Render(it.value)
	if it.unit != "" && it.value != "-" {
		line += " " + it.unit
	}
	return line
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fmtPos(valid bool, deg float64) string {
	if !valid {
		return "-"
	}
	return fmt.Sprintf("%.7f", deg)
}

func fmtFloat(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", prec, *v)
}

func fmtSats(g gps.Snapshot) string {
	if g.Satellites == nil {
		return "-"
	}
	s := fmt.Sprintf("%d", *g.Satellites)
	if g.InView != nil {
		s += fmt.Sprintf(" (%d in view)", *g.InView)
	}
	return s
}

func fixDesc(g gps.Snapshot) string {
	switch {
	case g.FixType != "" && g.FixQuality != "":
		return g.FixType + " " + gps.QualityName(g.FixQuality)
	case g.FixQuality != "":
		return gps.QualityName(g.FixQuality)
	case g.FixType != "":
		return g.FixType
	default:
		return "-"
	}
}
