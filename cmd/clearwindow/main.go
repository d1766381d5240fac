// Command clearwindow opens a resizable window and clears it to a solid colour
// every frame through the presentation loop.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"

	"github.com/vkngwrapper/presentation/gpu/vkbackend"
	"github.com/vkngwrapper/presentation/internal/window"
	"github.com/vkngwrapper/presentation/present"
)

const (
	windowTitle  = "Vulkan"
	windowWidth  = 800
	windowHeight = 600

	enableValidation = true

	reportInterval  = time.Second
	shutdownTimeout = 5 * time.Second
)

type ClearWindowApplication struct {
	logger   *slog.Logger
	window   *window.Window
	instance *vkbackend.Instance
	renderer *present.RenderContext

	lastReport  time.Duration
	framesSince uint64
}

func (app *ClearWindowApplication) Run(ctx context.Context) error {
	err := app.initWindow()
	if err != nil {
		return err
	}
	defer app.cleanup()

	err = app.initVulkan()
	if err != nil {
		return err
	}

	return app.mainLoop(ctx)
}

func (app *ClearWindowApplication) initWindow() error {
	w, err := window.Open(windowTitle, windowWidth, windowHeight)
	if err != nil {
		return err
	}
	app.window = w
	return nil
}

func (app *ClearWindowApplication) initVulkan() error {
	instance, err := vkbackend.Open(app.window.VulkanWindow(),
		vkbackend.WithApplicationName("Clear Window"),
		vkbackend.WithValidation(enableValidation),
		vkbackend.WithLogger(app.logger),
	)
	if err != nil {
		return err
	}
	app.instance = instance

	width, height := app.window.DrawableSize()
	app.renderer, err = present.Connect(instance, instance.Surface(), width, height,
		present.WithClearColor(mgl32.Vec4{0.1, 0.1, 0.15, 1}),
	)
	return err
}

func (app *ClearWindowApplication) mainLoop(ctx context.Context) error {
	app.lastReport = hrtime.Now()

	for !app.window.ShouldClose() {
		select {
		case <-ctx.Done():
			return app.waitForIdle()
		default:
		}

		if app.window.Minimized() {
			app.window.Wait(100)
			continue
		}

		app.window.Poll()
		if width, height, ok := app.window.ResizeReady(); ok {
			app.renderer.NotifyResize(width, height)
		}

		width, height := app.window.DrawableSize()
		err := app.renderer.DrawFrame(ctx, width, height)
		if err != nil {
			if !present.IsFatal(err) {
				break
			}
			return err
		}

		app.report()
	}

	return app.waitForIdle()
}

// waitForIdle uses its own deadline because the loop context may already be
// cancelled.
func (app *ClearWindowApplication) waitForIdle() error {
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return app.renderer.WaitForIdle(waitCtx)
}

func (app *ClearWindowApplication) report() {
	app.framesSince++

	now := hrtime.Now()
	elapsed := now - app.lastReport
	if elapsed < reportInterval {
		return
	}

	stats := app.renderer.Stats()
	app.logger.Info("frame stats",
		"fps", float64(app.framesSince)/elapsed.Seconds(),
		"last_frame", stats.LastFrame,
		"frames", stats.Frames,
		"skipped", stats.SkippedTicks,
		"recreations", stats.Recreations,
		"generation", stats.Generation)

	app.lastReport = now
	app.framesSince = 0
}

func (app *ClearWindowApplication) cleanup() {
	if app.renderer != nil {
		if err := app.renderer.Disconnect(); err != nil {
			app.logger.Error("disconnect", "error", err)
		}
	}

	if app.instance != nil {
		app.instance.Surface().Destroy()
		app.instance.Destroy()
	}

	app.window.Close()
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	present.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &ClearWindowApplication{logger: logger}

	err := app.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("%+v\n", err)
	}
}
