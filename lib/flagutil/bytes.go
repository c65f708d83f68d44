package flagutil

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// NewBytes returns new `bytes` flag with the given name, defaultValue and description.
func NewBytes(name string, defaultValue int64, description string) *Bytes {
	description += "\nSupports the following optional suffixes for `size` values: KB, MB, GB, TB, KiB, MiB, GiB, TiB"
	b := Bytes{
		N:           defaultValue,
		valueString: fmt.Sprintf("%d", defaultValue),
	}
	flag.Var(&b, name, description)
	return &b
}

// Bytes is a flag for holding size in bytes.
//
// It supports the following optional suffixes for values: KB, MB, GB, TB, KiB, MiB, GiB, TiB.
type Bytes struct {
	// N contains parsed value for the given flag.
	N int64

	valueString string
}

// String implements flag.Value interface
func (b *Bytes) String() string {
	return b.valueString
}

// Set implements flag.Value interface
func (b *Bytes) Set(value string) error {
	n, err := ParseBytes(value)
	if err != nil {
		return err
	}
	b.N = n
	b.valueString = normalizeBytesString(value)
	return nil
}

// ParseBytes parses the given size string with optional KB, MB, GB, TB, KiB, MiB, GiB, TiB suffix.
//
// An empty string is parsed as 0.
func ParseBytes(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	value = normalizeBytesString(value)
	for _, s := range bytesSuffixes {
		if !strings.HasSuffix(value, s.suffix) {
			continue
		}
		f, err := strconv.ParseFloat(value[:len(value)-len(s.suffix)], 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse size %q: %w", value, err)
		}
		return int64(f * float64(s.multiplier)), nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse size %q: %w", value, err)
	}
	return int64(f), nil
}

var bytesSuffixes = []struct {
	suffix     string
	multiplier int64
}{
	{"KiB", 1024},
	{"MiB", 1024 * 1024},
	{"GiB", 1024 * 1024 * 1024},
	{"TiB", 1024 * 1024 * 1024 * 1024},
	{"KB", 1e3},
	{"MB", 1e6},
	{"GB", 1e9},
	{"TB", 1e12},
}

func normalizeBytesString(s string) string {
	s = strings.ToUpper(s)
	return strings.ReplaceAll(s, "I", "i")
}
