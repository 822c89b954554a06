package capture

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// sysfsLight drives an LED through a sysfs brightness file, e.g.
// /sys/class/leds/ir/brightness.
type sysfsLight struct {
	path string

	mu sync.Mutex
	on bool
}

func (l *sysfsLight) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	value := "0"
	if on {
		value = l.maxBrightness()
	}
	if err := os.WriteFile(l.path, []byte(value+"\n"), 0o644); err != nil {
		return err
	}
	l.on = on
	return nil
}

func (l *sysfsLight) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *sysfsLight) maxBrightness() string {
	data, err := os.ReadFile(filepath.Join(filepath.Dir(l.path), "max_brightness"))
	if err != nil {
		return "1"
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		return v
	}
	return "1"
}
