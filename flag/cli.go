package flag

import (
	"github.com/alecthomas/kong"
)

// CLI is the kong command grammar for balloond.
type CLI struct {
	MemSize      string `name:"mem-size" short:"m" default:"1G" help:"Guest RAM size as number[gGmMkK]."`
	PollInterval int64  `name:"poll-interval" short:"p" default:"0" help:"Stats polling interval in seconds, 0 disables polling."`
	MetricsAddr  string `name:"metrics-addr" default:":9190" help:"Listen address of the Prometheus endpoint."`
	DeflateOnOOM bool   `name:"deflate-on-oom" default:"false" help:"Offer the deflate-on-oom feature."`
	BalloonSG    bool   `name:"balloon-sg" default:"true" negatable:"" help:"Offer the scatter-gather descriptor feature."`
	FreePageVQ   bool   `name:"free-page-vq" default:"true" negatable:"" help:"Offer the free page reporting feature."`
	ConfigFile   string `name:"config" type:"path" help:"YAML config file; values in it override flags."`
}

// Parse parses the process arguments and resolves the final Config.
// Usage errors terminate the process, per kong convention.
func Parse() (*Config, error) {
	c := CLI{}

	kong.Parse(&c,
		kong.Name("balloond"),
		kong.Description("balloond is a standalone virtio memory balloon device harness"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	return c.Resolve()
}

// Resolve converts parsed CLI values, plus the optional config file
// overlay, into a Config.
func (c *CLI) Resolve() (*Config, error) {
	memSize, err := ParseSize(c.MemSize, "g")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		MemSize:      memSize,
		PollInterval: c.PollInterval,
		MetricsAddr:  c.MetricsAddr,
		DeflateOnOOM: c.DeflateOnOOM,
		SG:           c.BalloonSG,
		FreePageVQ:   c.FreePageVQ,
	}

	if c.ConfigFile != "" {
		if err := cfg.overlayFile(c.ConfigFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
