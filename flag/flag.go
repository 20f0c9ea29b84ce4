// Package flag resolves the balloond harness configuration from the
// command line and an optional YAML config file.
package flag

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/nanovmm/balloond/virtio"
)

// Config is the resolved harness configuration.
type Config struct {
	MemSize      int
	PollInterval int64
	MetricsAddr  string
	DeflateOnOOM bool
	SG           bool
	FreePageVQ   bool
}

// HostFeatures returns the feature bits the host offers to the guest.
// The stats queue bit is added by the device itself.
func (c Config) HostFeatures() uint64 {
	var f uint64

	if c.DeflateOnOOM {
		f |= virtio.FeatureDeflateOnOOM
	}

	if c.SG {
		f |= virtio.FeatureSG
	}

	if c.FreePageVQ {
		f |= virtio.FeatureFreePageVQ
	}

	return f
}

// ParseSize parses a size string as number[gGmMkK]. The multiplier is
// optional, and if not set, the unit passed in is used. The number can
// be any base and size.
func ParseSize(s, unit string) (int, error) {
	sz := strings.TrimRight(s, "gGmMkK")
	if len(sz) == 0 {
		return -1, fmt.Errorf("%q:can't parse as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}

	amt, err := strconv.ParseUint(sz, 0, 0)
	if err != nil {
		return -1, err
	}

	if len(s) > len(sz) {
		unit = s[len(sz):]
	}

	switch unit {
	case "G", "g":
		return int(amt) << 30, nil
	case "M", "m":
		return int(amt) << 20, nil
	case "K", "k":
		return int(amt) << 10, nil
	case "":
		return int(amt), nil
	}

	return -1, fmt.Errorf("can not parse %q as num[gGmMkK]:%w", s, strconv.ErrSyntax)
}

// fileConfig mirrors Config for the YAML config file. Pointer fields
// distinguish "absent" from zero values so the file only overrides
// what it names.
type fileConfig struct {
	MemSize      *string `json:"memSize"`
	PollInterval *int64  `json:"pollInterval"`
	MetricsAddr  *string `json:"metricsAddr"`
	DeflateOnOOM *bool   `json:"deflateOnOOM"`
	BalloonSG    *bool   `json:"balloonSG"`
	FreePageVQ   *bool   `json:"freePageVQ"`
}

// overlayFile applies values from the YAML file at path on top of c.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	fc := fileConfig{}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config file %q: %w", path, err)
	}

	if fc.MemSize != nil {
		if c.MemSize, err = ParseSize(*fc.MemSize, "g"); err != nil {
			return fmt.Errorf("config file %q: memSize: %w", path, err)
		}
	}

	if fc.PollInterval != nil {
		c.PollInterval = *fc.PollInterval
	}

	if fc.MetricsAddr != nil {
		c.MetricsAddr = *fc.MetricsAddr
	}

	if fc.DeflateOnOOM != nil {
		c.DeflateOnOOM = *fc.DeflateOnOOM
	}

	if fc.BalloonSG != nil {
		c.SG = *fc.BalloonSG
	}

	if fc.FreePageVQ != nil {
		c.FreePageVQ = *fc.FreePageVQ
	}

	return nil
}
