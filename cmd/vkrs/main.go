// Command vkrs opens a window and runs the frame loop, clearing every frame
// to the configured color. With -headless it runs the same loop against the
// in-process simulation instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs"
	"github.com/lwestlund/vkrs/hal"
	"github.com/lwestlund/vkrs/hal/headless"
	"github.com/lwestlund/vkrs/hal/vulkan"
)

func init() {
	// glfw and most Vulkan window systems require the main thread.
	runtime.LockOSThread()
}

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML config file")
		headlessRun = flag.Bool("headless", false, "run against the simulated device")
		frames      = flag.Uint64("frames", 0, "stop after this many ticks (0 runs until closed)")
		logLevel    = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	logger, err := vkrs.NewLogger(os.Stderr, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(*configPath, *headlessRun, *frames, logger); err != nil {
		logger.Error("vkrs failed", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, headlessRun bool, frames uint64, logger *slog.Logger) error {
	cfg := vkrs.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = vkrs.LoadConfig(configPath); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var loop *vkrs.FrameLoop
	budget := func() {
		if frames > 0 && loop.Stats().Ticks >= frames {
			loop.Stop()
		}
	}

	var (
		instance hal.Instance
		provider vkrs.SurfaceProvider
		pump     = budget
	)
	if headlessRun {
		inst := headless.NewInstance()
		instance = inst
		provider = inst.NewSurface(cfg.Extent())
		defer func() {
			if v := inst.Violations(); len(v) > 0 {
				logger.Warn("usage violations", "count", len(v), "first", v[0])
			}
		}()
	} else {
		win, err := newWindow(cfg)
		if err != nil {
			return err
		}
		defer win.Destroy()

		inst, err := vulkan.NewInstance(vulkan.InstanceConfig{
			AppName:    cfg.AppName,
			Extensions: win.InstanceExtensions(),
			Layers:     cfg.EnabledLayers(),
			Debug:      cfg.Validation,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		if err := win.CreateSurface(inst); err != nil {
			inst.Destroy()
			return err
		}
		instance, provider = inst, win
		pump = func() {
			if pumpEvents(win, loop.LastTick()) {
				loop.Stop()
			}
			budget()
		}
	}

	loop, err := vkrs.Open(instance, provider, cfg, vkrs.ClearOnly, vkrs.LoopOptions{
		Pump:   pump,
		Logger: logger,
	})
	if err != nil {
		return errors.Wrap(err, "open")
	}
	runErr := loop.Run(ctx)
	if err := loop.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	stats := loop.Stats()
	logger.Info("frame loop finished",
		"ticks", stats.Ticks,
		"frames", stats.Frames,
		"skipped", stats.Skipped,
		"recreations", stats.Recreations,
		"recording_errors", stats.RecordingErrors)
	return runErr
}

// minimizedWait bounds how long a minimized window blocks for events, so
// signals and the frame budget are still checked.
const minimizedWait = 0.1

type eventSource interface {
	PollEvents()
	WaitEvents(timeout float64)
	ShouldClose() bool
}

// pumpEvents processes pending window events and reports whether the window
// was asked to close. After a minimized tick it waits for an event instead of
// polling, since there is nothing to draw until the window is restored.
func pumpEvents(src eventSource, last vkrs.TickReport) (closed bool) {
	if last.Outcome == vkrs.OutcomeMinimized {
		src.WaitEvents(minimizedWait)
	} else {
		src.PollEvents()
	}
	return src.ShouldClose()
}
