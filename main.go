package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/nanovmm/balloond/flag"
	"github.com/nanovmm/balloond/memory"
	"github.com/nanovmm/balloond/metrics"
	"github.com/nanovmm/balloond/policy"
	"github.com/nanovmm/balloond/virtio"
)

func main() {
	cfg, err := flag.Parse()
	if err != nil {
		logrus.Fatal(err)
	}

	if err := run(cfg); err != nil {
		logrus.Fatal(err)
	}
}

func run(cfg *flag.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ram, err := memory.AllocRAM(cfg.MemSize)
	if err != nil {
		return err
	}

	defer func() {
		if err := memory.FreeRAM(ram); err != nil {
			logrus.WithError(err).Warn("releasing guest ram")
		}
	}()

	space := memory.NewAddressSpace("guest-phys")
	if err := space.AddRegion(&memory.Region{
		Name: "ram",
		Type: memory.RAM,
		Addr: 0,
		Size: uint64(cfg.MemSize),
		Buf:  ram,
	}); err != nil {
		return err
	}

	queues := map[string]*virtio.MemQueue{}

	dev, err := virtio.NewBalloon(cfg.HostFeatures(), virtio.Env{
		Space:    space,
		Advisor:  memory.MadviseAdvisor{},
		Registry: policy.NewRegistry(),
		RAMSize:  uint64(cfg.MemSize),
		NewQueue: func(name string) virtio.Queue {
			q := virtio.NewMemQueue(name)
			queues[name] = q

			return q
		},
		NotifyConfig: func() {
			logrus.Info("config change interrupt raised")
		},
		OnBalloonChange: func(size uint64) {
			logrus.WithField("bytes", size).Info("balloon size changed")
		},
	})
	if err != nil {
		return err
	}

	defer dev.Close()

	// The harness guest acknowledges everything the host offers.
	if err := dev.Negotiate(dev.OfferFeatures()); err != nil {
		return err
	}

	dev.SetRunning(true)

	if cfg.PollInterval > 0 {
		if err := dev.SetStatsPollInterval(cfg.PollInterval); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(dev)); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutCtx)
	})

	g.Go(func() error {
		return guestLoop(ctx, dev, queues["stats"])
	})

	logrus.WithField("addr", cfg.MetricsAddr).Info("balloond up")

	return g.Wait()
}

// guestLoop stands in for a guest driver: it keeps the stats queue
// replenished so the polling protocol has a peer, reposting a fresh
// buffer whenever the device completes the previous one.
func guestLoop(ctx context.Context, dev *virtio.Balloon, svq *virtio.MemQueue) error {
	post := func() {
		svq.Push(&virtio.Request{Out: sampleStats()})
		dev.NotifyStats()
	}

	post()

	seen := 0

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if done := len(svq.Completions()); done > seen {
				seen = done

				post()
			}
		}
	}
}

// sampleStats builds a stats buffer from host sysinfo, standing in for
// the guest kernel's report.
func sampleStats() []byte {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		logrus.WithError(err).Warn("sysinfo")

		return nil
	}

	type record struct {
		Tag uint16
		Val uint64
	}

	buf := new(bytes.Buffer)

	for _, r := range []record{
		{Tag: virtio.StatFreeMemory, Val: uint64(si.Freeram) * uint64(si.Unit)},
		{Tag: virtio.StatTotalMemory, Val: uint64(si.Totalram) * uint64(si.Unit)},
	} {
		if err := binary.Write(buf, binary.LittleEndian, r); err != nil {
			logrus.WithError(err).Warn("encoding stats record")

			return nil
		}
	}

	return buf.Bytes()
}
