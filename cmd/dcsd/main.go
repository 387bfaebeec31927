// Command dcsd runs the Dynamic Channel Selection controller for one Wi-Fi
// HaLow access point interface (spec.md §§1, 4.P).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/halow-ap/dcsd/internal/algo"
	"github.com/halow-ap/dcsd/internal/backend"
	"github.com/halow-ap/dcsd/internal/backend/ctrlsock"
	"github.com/halow-ap/dcsd/internal/backend/nl80211"
	"github.com/halow-ap/dcsd/internal/backend/vendorcmd"
	"github.com/halow-ap/dcsd/internal/config"
	"github.com/halow-ap/dcsd/internal/dataitem"
	"github.com/halow-ap/dcsd/internal/datalog"
	"github.com/halow-ap/dcsd/internal/dcs"
	"github.com/halow-ap/dcsd/internal/devwatch"
	"github.com/halow-ap/dcsd/internal/engine"
	"github.com/halow-ap/dcsd/internal/replay"
	"github.com/halow-ap/dcsd/internal/statusled"
)

func main() {
	var configPath = pflag.StringP("config", "c", "/etc/dcsd/dcsd.yaml", "Configuration file path.")
	var logLevel = pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error.")

	pflag.Parse()

	var logger = log.New(os.Stderr)

	var level, levelErr = log.ParseLevel(*logLevel)
	if levelErr != nil {
		fmt.Fprintf(os.Stderr, "dcsd: invalid --log-level %q: %v\n", *logLevel, levelErr)
		os.Exit(1)
	}

	logger.SetLevel(level)

	if err := run(logger, *configPath); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(logger *log.Logger, configPath string) error {
	var cfg, loadErr = config.Load(configPath)
	if loadErr != nil {
		return fmt.Errorf("load config: %w", loadErr)
	}

	var ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !cfg.DCS.Test.Enabled {
		if waitErr := devwatch.WaitForInterface(ctx, logger, cfg.InterfaceName); waitErr != nil {
			return fmt.Errorf("wait for interface: %w", waitErr)
		}
	}

	var ctrlBackend backend.Backend
	var vendorBackend backend.Backend
	var nlBackend *nl80211.Backend
	var replayBackend *replay.Backend

	if cfg.DCS.Test.Enabled {
		var rb, buildErr = buildReplayBackend(logger, cfg)
		if buildErr != nil {
			return buildErr
		}

		replayBackend = rb
		ctrlBackend = rb
		vendorBackend = rb

		go haltOnExhaustion(ctx, logger, cancel, rb)
	} else {
		var nl, vendor, buildErr = buildBackends(logger, cfg)
		if buildErr != nil {
			return buildErr
		}

		nlBackend = nl
		vendorBackend = vendor
		ctrlBackend = ctrlsock.New(logger, cfg.Backends.Hostapd.ControlPath, cfg.InterfaceName)
	}

	var a, algoErr = buildAlgorithm(cfg)
	if algoErr != nil {
		return algoErr
	}

	var controller = dcs.New(logger, ctrlBackend, vendorBackend, a, dcs.Config{
		TriggerCSA:    cfg.TriggerCSAOrDefault(),
		DTIMsForCSA:   cfg.DCS.DTIMsForCSA,
		AlgoType:      cfg.DCS.AlgoType,
		EWMA:          toEWMAConfig(cfg.DCS.EWMA),
		SampleAndHold: toSampleAndHoldConfig(cfg.DCS.SampleAndHold),
	})

	if sink, sinkErr := buildSink(cfg); sinkErr != nil {
		return sinkErr
	} else if sink != nil {
		controller = controller.WithSink(sink)
	}

	var indicator = statusled.None()

	if cfg.DCS.StatusGPIOLine != "" {
		var opened, ledErr = statusled.Open(logger, cfg.DCS.StatusGPIOLine)
		if ledErr != nil {
			return fmt.Errorf("open status gpio line: %w", ledErr)
		}

		indicator = opened
		defer indicator.Close()
	}

	controller = controller.WithStatusIndicator(indicator)

	if initErr := controller.Init(ctx); initErr != nil {
		return fmt.Errorf("dcs init: %w", initErr)
	}

	var dispatcher = engine.NewDispatcher(logger)

	if regErr := registerMonitors(ctx, dispatcher, controller, replayBackend, nlBackend, vendorBackend); regErr != nil {
		return regErr
	}

	var runErr = controller.Run(ctx)

	dispatcher.Wait()

	if runErr != nil && ctx.Err() != nil {
		logger.Info("shutting down", "reason", ctx.Err())

		return nil
	}

	return runErr
}

// registerMonitors wires the OCS_DONE and CH_SWITCH_NOTIFY pattern monitors
// onto whichever backends are actually in play: the vendor-command and
// netlink backends in normal operation, or the single replay backend
// standing in for both in test mode (spec.md §4.J, §4.P).
func registerMonitors(ctx context.Context, dispatcher *engine.Dispatcher, controller *dcs.Controller, replayBackend *replay.Backend, nlBackend *nl80211.Backend, vendorBackend backend.Backend) error {
	if replayBackend != nil {
		if regErr := dispatcher.RegisterMonitor(ctx, replayBackend, dataitem.StrKey("OCS_DONE"), controller.HandleOCSDone); regErr != nil {
			return fmt.Errorf("register ocs_done monitor: %w", regErr)
		}

		if regErr := dispatcher.RegisterMonitor(ctx, replayBackend, dataitem.IntKey(nl80211.CmdChSwitchNotify), controller.HandleChSwitchNotifyEvent); regErr != nil {
			return fmt.Errorf("register ch_switch_notify monitor: %w", regErr)
		}

		return nil
	}

	if vendorBackend != nil {
		if regErr := dispatcher.RegisterMonitor(ctx, vendorBackend, dataitem.StrKey("OCS_DONE"), controller.HandleOCSDone); regErr != nil {
			return fmt.Errorf("register ocs_done monitor: %w", regErr)
		}
	}

	if nlBackend != nil {
		if regErr := dispatcher.RegisterMonitor(ctx, nlBackend, dataitem.IntKey(nl80211.CmdChSwitchNotify), controller.HandleChSwitchNotifyEvent); regErr != nil {
			return fmt.Errorf("register ch_switch_notify monitor: %w", regErr)
		}
	}

	return nil
}

// haltOnExhaustion cancels ctx once the replay file runs dry, satisfying
// spec.md §4.J's "the scheduler must halt cleanly" for the test/replay path.
func haltOnExhaustion(ctx context.Context, logger *log.Logger, cancel context.CancelFunc, rb *replay.Backend) {
	select {
	case <-rb.Done():
		logger.Info("replay file exhausted, shutting down")
		cancel()
	case <-ctx.Done():
	}
}

func buildReplayBackend(logger *log.Logger, cfg *config.Config) (*replay.Backend, error) {
	var src, loadErr = replay.Load(cfg.DCS.Test.Filepath)
	if loadErr != nil {
		return nil, fmt.Errorf("load replay file: %w", loadErr)
	}

	var rb, buildErr = replay.NewBackend(logger, src)
	if buildErr != nil {
		return nil, fmt.Errorf("build replay backend: %w", buildErr)
	}

	return rb, nil
}

func buildBackends(logger *log.Logger, cfg *config.Config) (*nl80211.Backend, *vendorcmd.Backend, error) {
	var nl, nlErr = nl80211.New(logger, cfg.InterfaceName)
	if nlErr != nil {
		return nil, nil, fmt.Errorf("open nl80211 backend: %w", nlErr)
	}

	var vendor = vendorcmd.New(logger, nl)

	return nl, vendor, nil
}

func buildAlgorithm(cfg *config.Config) (algo.Algorithm, error) {
	switch cfg.DCS.AlgoType {
	case "ewma":
		return algo.NewEWMA(toEWMAConfig(cfg.DCS.EWMA)), nil
	case "sample_and_hold":
		return algo.NewSampleAndHold(toSampleAndHoldConfig(cfg.DCS.SampleAndHold)), nil
	default:
		return nil, fmt.Errorf("dcsd: unknown algo_type %q", cfg.DCS.AlgoType)
	}
}

func toEWMAConfig(c config.EWMAConfig) algo.EWMAConfig {
	return algo.EWMAConfig{
		Alpha:        c.Alpha,
		ThresholdPct: c.ThresholdPct,
		RoundsForCSA: c.RoundsForCSA,
		SecPerScan:   c.SecPerScan,
		SecPerRound:  c.SecPerRound,
	}
}

func toSampleAndHoldConfig(c config.SampleAndHoldConfig) algo.SampleAndHoldConfig {
	return algo.SampleAndHoldConfig{
		RoundsForEval: c.RoundsForEval,
		ThresholdPct:  c.ThresholdPct,
		SecPerScan:    c.SecPerScan,
		SecPerRound:   c.SecPerRound,
	}
}

func buildSink(cfg *config.Config) (*datalog.CSVSink, error) {
	var dcsSink, configured = cfg.Datalog.Sinks["dcs"]
	if !configured || !dcsSink.Enabled {
		return nil, nil
	}

	if cfg.Datalog.RootDir == "" {
		return nil, fmt.Errorf("dcsd: datalog.dcs.enabled requires datalog.root_dir")
	}

	var sink, err = datalog.NewCSVSink(cfg.Datalog.RootDir, time.Now())
	if err != nil {
		return nil, fmt.Errorf("open datalog sink: %w", err)
	}

	return sink, nil
}
