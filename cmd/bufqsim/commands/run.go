// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"code.hybscloud.com/bufq/internal/logging"
	"code.hybscloud.com/bufq/internal/sim"
	"code.hybscloud.com/bufq/internal/simconfig"
	"code.hybscloud.com/bufq/trace"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation",
	Long: `Run one producer/consumer simulation and print a summary.

Flags override the config file and environment.`,
	RunE: runSim,
}

func init() {
	d := simconfig.DefaultConfig()
	f := runCmd.Flags()
	f.String("name", d.Queue.Name, "queue name used in logs and traces")
	f.Uint32("width", d.Queue.Width, "default buffer width")
	f.Uint32("height", d.Queue.Height, "default buffer height")
	f.String("format", d.Queue.Format, fmt.Sprintf("default buffer format %v", simconfig.FormatNames()))
	f.Int("max-dequeued", d.Queue.MaxDequeued, "buffers the producer may hold at once")
	f.Int("max-acquired", d.Queue.MaxAcquired, "buffers the consumer may hold at once")
	f.Bool("async", d.Queue.Async, "async mode: never block, drop the oldest pending frame")
	f.Duration("dequeue-timeout", d.Queue.DequeueTimeout, "how long a dequeue may block, negative waits forever")
	f.Int("frames", d.Sim.Frames, "frames to produce")
	f.Duration("producer-interval", d.Sim.ProducerInterval, "pause between queued frames")
	f.Duration("consumer-interval", d.Sim.ConsumerInterval, "time the consumer holds each frame")
	f.Duration("fence-delay", d.Sim.FenceDelay, "delay before a queued frame's fence signals")
	f.Int("detach-every", d.Sim.DetachEvery, "route every Nth frame through detach and attach, 0 disables")
	f.String("trace", d.Trace.Sink, "trace sink: none, log or msgpack")
	f.String("trace-file", d.Trace.File, "msgpack trace output file")

	for key, flag := range runFlags {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("binding --%s to %s: %v", flag, key, err))
		}
	}
}

// runFlags maps config keys to the run flags that override them.
var runFlags = map[string]string{
	"queue.name":            "name",
	"queue.width":           "width",
	"queue.height":          "height",
	"queue.format":          "format",
	"queue.max_dequeued":    "max-dequeued",
	"queue.max_acquired":    "max-acquired",
	"queue.async":           "async",
	"queue.dequeue_timeout": "dequeue-timeout",
	"sim.frames":            "frames",
	"sim.producer_interval": "producer-interval",
	"sim.consumer_interval": "consumer-interval",
	"sim.fence_delay":       "fence-delay",
	"sim.detach_every":      "detach-every",
	"trace.sink":            "trace",
	"trace.file":            "trace-file",
}

func loadConfig() (*simconfig.Config, error) {
	cfg, err := simconfig.LoadWith(v, cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closer, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closer.Close()

	tr, err := newTracer(cfg.Trace, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"queue":  cfg.Queue.Name,
		"frames": cfg.Sim.Frames,
		"async":  cfg.Queue.Async,
		"trace":  cfg.Trace.Sink,
	}).Info("simulation starting")

	res, runErr := sim.Run(ctx, cfg.SimRun(), log, tr)
	ts := tr.Stats()
	if err := tr.Close(); err != nil {
		log.WithError(err).Warn("closing trace sink")
	}
	if runErr != nil {
		log.WithError(runErr).Error("simulation failed")
		return runErr
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderSummary(cfg, res, ts))
	return nil
}

func newTracer(cfg simconfig.TraceConfig, log logrus.FieldLogger) (*trace.Tracer, error) {
	tcfg := trace.Config{Capacity: cfg.Capacity, Logger: log}
	switch cfg.Sink {
	case "log":
		return trace.NewTracer(trace.NewLogSink(log.WithField("component", "trace")), tcfg), nil
	case "msgpack":
		file, err := os.Create(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("trace file: %w", err)
		}
		return trace.NewTracer(trace.NewMsgpackSink(file), tcfg), nil
	default:
		return nil, nil
	}
}
