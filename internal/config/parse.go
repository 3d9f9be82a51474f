package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ParseDurationField parses a Go duration string; empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseSizeField parses a byte size. Humanized forms ("512MiB",
// "1 GB") and plain integers are both accepted; empty means zero.
func ParseSizeField(path, raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid size %q: %w", path, raw, err)
	}
	return n, nil
}

func parseDeviceSizes(path string, in map[string]string) (map[string]uint64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]uint64, len(in))
	for dev, raw := range in {
		n, err := ParseSizeField(path+"["+dev+"]", raw)
		if err != nil {
			return nil, err
		}
		out[dev] = n
	}
	return out, nil
}
