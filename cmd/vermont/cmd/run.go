package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vermont/core/config"
	"vermont/core/errors"
	"vermont/core/events"
	"vermont/core/logger"
	"vermont/core/thread"
	"vermont/modules/dbwriter"
)

// ingestGrace is how long shutdown waits for the ingest thread before detaching it.
const ingestGrace = 200 * time.Millisecond

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("input", "", `read JSON records from this file ("-" for stdin)`)
}

// runCmd starts the collector and runs until interrupted or the input is exhausted.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collector",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "run")

		cfg, err := config.LoadConfig(configPaths...)
		if err != nil {
			return err
		}
		if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Development); err != nil {
			return err
		}
		cfg.AddConfigChangeHook(func(updated *config.Config) {
			if err := logger.Configure(updated.Logging.Level, updated.Logging.Development); err != nil {
				logger.Error(ctx, "Failed to apply logging change", zap.Error(err))
				return
			}
			logger.Info(ctx, "Logging reconfigured", zap.String("level", updated.Logging.Level))
		})

		var input io.Reader
		switch path, _ := cmd.Flags().GetString("input"); path {
		case "":
		case "-":
			input = cmd.InOrStdin()
		default:
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer f.Close()
			input = f
		}

		stats, err := runCollector(ctx, cfg, input)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "received=%d written=%d failed=%d\n", stats.Received, stats.Written, stats.Failed)
		return nil
	},
}

// runCollector starts the database writer and, when input is non-nil, an
// ingest thread feeding it. It returns once ctx is done or input is
// exhausted, after stopping both threads.
func runCollector(ctx context.Context, cfg *config.Config, input io.Reader) (dbwriter.Stats, error) {
	if err := cfg.Validate(); err != nil {
		return dbwriter.Stats{}, err
	}
	// The writer and the ingest thread each hold a slot.
	if input != nil && cfg.Threads.MaxConcurrent < 2 {
		return dbwriter.Stats{}, fmt.Errorf("%w: threads.max_concurrent must be at least 2 to read input, got %d",
			errors.ErrInvalidInput, cfg.Threads.MaxConcurrent)
	}

	spawner, err := thread.NewLimitedSpawner(int64(cfg.Threads.MaxConcurrent))
	if err != nil {
		return dbwriter.Stats{}, err
	}

	bus := events.New(0)
	defer bus.Close()
	stopWatch := watchLifecycle(ctx, bus)
	defer stopWatch()

	writer := dbwriter.New(dbwriter.WithSpawner(spawner), dbwriter.WithEventBus(bus))
	if err := writer.Configure(cfg.Module(dbwriter.Name)); err != nil {
		return dbwriter.Stats{}, err
	}
	if err := writer.Start(ctx); err != nil {
		return dbwriter.Stats{}, fmt.Errorf("start %s: %w", dbwriter.Name, err)
	}
	logger.Info(ctx, "Collector started", zap.Int64("max_threads", spawner.Limit()))

	var ingest *thread.Thread
	exhausted := make(chan struct{})
	if input != nil {
		ingest = newIngestThread(ctx, writer, exhausted, thread.WithSpawner(spawner), thread.WithEventBus(bus))
		if err := ingest.Start(input); err != nil {
			logger.Error(ctx, "Failed to start ingest thread", zap.Error(err))
			if _, stopErr := stopWriter(cfg, writer); stopErr != nil {
				logger.Error(ctx, "Failed to stop database writer", zap.Error(stopErr))
			}
			return dbwriter.Stats{}, fmt.Errorf("start ingest: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info(ctx, "Shutting down collector")
	case <-exhausted:
		logger.Info(ctx, "Input exhausted, shutting down collector")
	}

	if ingest != nil {
		stopIngest(ctx, ingest)
	}
	return stopWriter(cfg, writer)
}

// stopWriter stops writer within threads.join_timeout_seconds. On timeout the
// writer thread is detached and finishes on its own.
func stopWriter(cfg *config.Config, writer *dbwriter.Module) (dbwriter.Stats, error) {
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Threads.JoinTimeoutSeconds)*time.Second)
	defer cancel()
	return writer.Stop(stopCtx)
}

// stopIngest cancels the ingest thread and joins it. A thread blocked reading
// its input cannot observe the cancel flag, so it is detached after a grace period.
func stopIngest(ctx context.Context, ingest *thread.Thread) {
	ingest.RequestCancel()
	joinCtx, cancel := context.WithTimeout(context.Background(), ingestGrace)
	defer cancel()

	res, err := ingest.JoinContext(joinCtx)
	switch {
	case err == nil:
		logger.Info(ctx, "Ingest thread finished", zap.Any("records", res))
	case errors.Is(err, context.DeadlineExceeded):
		if !ingest.Detach() {
			logger.Warn(ctx, "Ingest thread could not be detached")
		}
		logger.Warn(ctx, "Ingest thread still blocked on input, detached")
	default:
		logger.Error(ctx, "Ingest thread failed", zap.Error(err))
	}
}

// newIngestThread returns a thread that decodes JSON records from the
// io.Reader passed to Start and submits them to writer. It returns the
// number of submitted records and closes exhausted when it ends.
func newIngestThread(ctx context.Context, writer *dbwriter.Module, exhausted chan<- struct{}, opts ...thread.Option) *thread.Thread {
	var t *thread.Thread
	t = thread.New(func(arg any) any {
		defer close(exhausted)
		dec := json.NewDecoder(arg.(io.Reader))
		n := 0
		for !t.CancelRequested() {
			var rec dbwriter.Record
			if err := dec.Decode(&rec); err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn(ctx, "Stopping ingest on malformed input", zap.Int("records", n), zap.Error(err))
				}
				return n
			}
			if err := writer.Submit(ctx, rec); err != nil {
				logger.Warn(ctx, "Stopping ingest, writer refused record", zap.Error(err))
				return n
			}
			n++
		}
		return n
	}, append([]thread.Option{thread.WithName("ingest")}, opts...)...)
	return t
}

// watchLifecycle logs thread lifecycle events until the returned func is called.
func watchLifecycle(ctx context.Context, bus events.Bus) func() {
	topics := []string{events.ThreadStarted, events.ThreadJoined, events.ThreadDetached, events.ThreadCancelRequested}
	var cancels []func()
	for _, topic := range topics {
		ch, cancel, err := bus.Subscribe(topic)
		if err != nil {
			continue
		}
		cancels = append(cancels, cancel)
		go func() {
			for ev := range ch {
				le, ok := ev.(events.LifecycleEvent)
				if !ok {
					continue
				}
				fields := []zap.Field{zap.String("thread", le.Thread), zap.String("event", le.Topic)}
				if le.Err != nil {
					fields = append(fields, zap.Error(le.Err))
				}
				logger.Debug(ctx, "Thread lifecycle", fields...)
			}
		}()
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}
