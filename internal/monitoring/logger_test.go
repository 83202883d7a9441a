package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	orig := Logf
	defer func() { Logf = orig }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("gps read failed device=%s", "/dev/ttyUSB0")
	if got != "gps read failed device=/dev/ttyUSB0" {
		t.Fatalf("got %q", got)
	}

	SetLogger(nil)
	got = ""
	Logf("muted %d", 1)
	if got != "" {
		t.Fatalf("expected muted logger, got %q", got)
	}
}
