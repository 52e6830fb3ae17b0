package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/giobyte8/resizer/internal/codec"
	"github.com/giobyte8/resizer/internal/config"
	"github.com/giobyte8/resizer/internal/consumer"
	"github.com/giobyte8/resizer/internal/models"
	"github.com/giobyte8/resizer/internal/resizing"
	"github.com/giobyte8/resizer/internal/resizing/lilliputengine"
	"github.com/giobyte8/resizer/internal/services"
	"github.com/giobyte8/resizer/internal/telemetry"
)

const usage = `Usage:
  resizer clean  -dest DIR
  resizer resize -src DIR -dest DIR -scale F [-parallel] [-clean]
  resizer serve
`

func setupLogging(level slog.Level) {
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {

			// Format time to show only the time (HH:MM:SS)
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format("15:04:05"))
			}

			return a
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	slog.SetDefault(logger)
}

func newResizer(cfg *config.Config) resizing.ImageResizer {
	engine, _ := resizing.ParseEngine(cfg.Engine)
	if engine == resizing.EngineLilliput {
		return lilliputengine.NewResizer(cfg.JPEGQuality)
	}

	return resizing.NewNativeResizer(codec.New(
		codec.WithQuality(cfg.JPEGQuality),
		codec.WithAutoOrient(cfg.AutoOrient),
	))
}

func newBatchService(
	cfg *config.Config,
	telemetry *telemetry.TelemetrySvc,
) *services.BatchService {
	return services.NewBatchService(
		services.BatchConfig{
			Workers:     cfg.EffectiveWorkers(),
			FoldExtCase: cfg.FoldExtCase,
		},
		newResizer(cfg),
		telemetry,
	)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	setupLogging(level)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	telemetry, err := telemetry.NewTelemetrySvc(ctx, telemetry.Config{
		OtelEnabled:           cfg.Otel.Enabled,
		CollectorGrpcEndpoint: cfg.Otel.CollectorGrpcEndpoint,
	})
	if err != nil {
		slog.Error("Failed to initialize Telemetry services", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()

		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry services", "error", err)
		}
	}()

	svc := newBatchService(cfg, telemetry)

	switch args[0] {
	case "clean":
		return runClean(svc, args[1:])
	case "resize":
		return runResize(ctx, svc, args[1:], os.Stdout)
	case "serve":
		return runServe(ctx, cfg, svc, telemetry)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

func runClean(svc *services.BatchService, args []string) int {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	dest := fs.String("dest", "", "directory to empty (created when missing)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dest == "" {
		fmt.Fprintln(os.Stderr, "clean: -dest is required")
		return 2
	}

	if err := svc.Clean(*dest); err != nil {
		slog.Error("Failed to clean destination", "dest", *dest, "error", err)
		return 1
	}
	slog.Info("Destination cleaned", "dest", *dest)
	return 0
}

func runResize(
	ctx context.Context,
	svc *services.BatchService,
	args []string,
	out io.Writer,
) int {
	fs := flag.NewFlagSet("resize", flag.ContinueOnError)
	src := fs.String("src", "", "directory to scan for images")
	dest := fs.String("dest", "", "directory that receives the resized JPEGs")
	scale := fs.Float64("scale", 0, "uniform scale factor, e.g. 0.5")
	parallel := fs.Bool("parallel", false, "resize concurrently")
	clean := fs.Bool("clean", false, "empty -dest before resizing")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *src == "" || *dest == "" {
		fmt.Fprintln(os.Stderr, "resize: -src and -dest are required")
		return 2
	}

	var err error
	if *clean {
		err = svc.Clean(*dest)
	} else {
		err = os.MkdirAll(*dest, 0755)
	}
	if err != nil {
		slog.Error("Failed to prepare destination", "dest", *dest, "error", err)
		return 1
	}

	var report *models.BatchReport
	if *parallel {
		report, err = svc.ResizeImagesAsync(ctx, *src, *dest, *scale)
	} else {
		report, err = svc.ResizeImages(ctx, *src, *dest, *scale)
	}

	printSummary(out, report)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("Resize interrupted")
		}
		slog.Error("Resize failed", "error", err)
		return 1
	}
	return 0
}

func printSummary(out io.Writer, report *models.BatchReport) {
	if report == nil {
		return
	}

	fmt.Fprintf(
		out,
		"run %s (%s): %d resized, %d failed in %s\n",
		report.RunID,
		report.Mode,
		report.Succeeded(),
		report.Failed(),
		report.Elapsed.Round(time.Millisecond),
	)
	for _, r := range report.Results {
		if r.Err != nil {
			fmt.Fprintf(out, "  FAIL %s: %v\n", r.SourcePath, r.Err)
			continue
		}
		fmt.Fprintf(
			out,
			"  ok   %s -> %s (%dx%d -> %dx%d)\n",
			r.SourcePath,
			r.OutputPath,
			r.SourceWidth,
			r.SourceHeight,
			r.Width,
			r.Height,
		)
	}
}

func runServe(
	ctx context.Context,
	cfg *config.Config,
	svc *services.BatchService,
	telemetry *telemetry.TelemetrySvc,
) int {
	slog.Info("Starting resizer service...")

	var amqpConsumer consumer.MessageConsumer
	amqpConsumer, err := consumer.NewAMQPConsumer(
		consumer.AMQPConfig{
			AMQPUri:            cfg.AMQP.URI(),
			Exchange:           cfg.AMQP.Exchange,
			ResizeRequestQueue: cfg.AMQP.ResizeRequestQueue,
		},
		svc,
		telemetry,
	)
	if err != nil {
		slog.Error("Failed to create AMQP consumer", "error", err)
		return 1
	}

	if err := amqpConsumer.Start(ctx); err != nil {
		slog.Error("Failed to start AMQP consumer", "error", err)
		return 1
	}
	slog.Info("Resizer service is running. Press Ctrl+C to stop.")

	<-ctx.Done()
	slog.Info("Received shutdown signal, shutting down...")

	amqpConsumer.Stop()
	slog.Info("Resizer service exited gracefully.")
	return 0
}
