// Package sensor parses the auxiliary sensor board's line protocol: one
// comma-separated record per line with a fixed field count.
package sensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldCount is the number of comma-separated fields in one record.
const FieldCount = 7

var ErrFieldCount = errors.New("sensor: wrong field count")

// Sample is one record from the sensor board. Every field is required.
type Sample struct {
	TimeMs  uint32  `json:"time_ms"`
	Roll    float32 `json:"roll"`
	Pitch   float32 `json:"pitch"`
	Yaw     float32 `json:"yaw"`
	SonarMm float32 `json:"sonar_mm"`
	Tof1Mm  float32 `json:"tof1_mm"`
	Tof2Mm  float32 `json:"tof2_mm"`
}

// Columns names the fields in wire order.
var Columns = []string{"time_ms", "roll", "pitch", "yaw", "sonar_mm", "tof1_mm", "tof2_mm"}

// Parse decodes one line such as "1000,0.1,0.2,0.3,150.0,20.0,21.0\r\n".
// Surrounding whitespace and the line terminator are ignored.
func Parse(line string) (Sample, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, ",")
	if len(parts) != FieldCount {
		return Sample{}, fmt.Errorf("%w: got %d want %d", ErrFieldCount, len(parts), FieldCount)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	timeMs, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Sample{}, fmt.Errorf("sensor: time_ms %q: %w", parts[0], err)
	}

	var f [FieldCount - 1]float32
	for i := range f {
		v, err := strconv.ParseFloat(parts[i+1], 32)
		if err != nil {
			return Sample{}, fmt.Errorf("sensor: %s %q: %w", Columns[i+1], parts[i+1], err)
		}
		f[i] = float32(v)
	}

	return Sample{
		TimeMs:  uint32(timeMs),
		Roll:    f[0],
		Pitch:   f[1],
		Yaw:     f[2],
		SonarMm: f[3],
		Tof1Mm:  f[4],
		Tof2Mm:  f[5],
	}, nil
}

// Fields formats s in wire order, the inverse of Parse.
func (s Sample) Fields() []string {
	return []string{
		strconv.FormatUint(uint64(s.TimeMs), 10),
		formatFloat(s.Roll),
		formatFloat(s.Pitch),
		formatFloat(s.Yaw),
		formatFloat(s.SonarMm),
		formatFloat(s.Tof1Mm),
		formatFloat(s.Tof2Mm),
	}
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}
