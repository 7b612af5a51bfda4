// ABOUTME: Main entry point for the labscope acquisition tool
// ABOUTME: Runs the instrument from config and inspects DAQ recordings
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/harper/labscope/internal/application/config"
	"github.com/harper/labscope/internal/application/manager"
	"github.com/harper/labscope/internal/domain/convert"
	"github.com/harper/labscope/internal/infrastructure/daqlog"
)

var (
	runDuration  time.Duration
	inspectStart float64
	inspectEnd   float64
)

var rootCmd = &cobra.Command{
	Use:           "labscope",
	Short:         "Oscilloscope, logic analyzer and multimeter acquisition",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run [config.yaml]",
	Short: "Acquire frames and log trigger and multimeter readings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := "config.yaml"
		if len(args) > 0 {
			cfgPath = args[0]
		}
		return run(cmd.Context(), cfgPath)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect file.csv",
	Short: "Summarise a DAQ recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspect(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "stop after this long (0 runs until interrupted)")
	inspectCmd.Flags().Float64Var(&inspectStart, "start", 0, "first second of the recording to include")
	inspectCmd.Flags().Float64Var(&inspectEnd, "end", 0, "last second of the recording to include (0 for the end)")
	rootCmd.AddCommand(runCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// newLogger honours the logging block, falling back to text on a terminal
// and JSON otherwise.
func newLogger(cfg config.LoggingConfig, w *os.File) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	jsonOut := !term.IsTerminal(int(w.Fd()))
	if cfg.JSON != nil {
		jsonOut = *cfg.JSON
	}
	if jsonOut {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	mgr, err := manager.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}
	if err := mgr.Start(); err != nil {
		mgr.Shutdown()
		return fmt.Errorf("start: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	waited := make(chan struct{})
	g.Go(func() error {
		defer close(waited)
		return mgr.Wait()
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info("shutting down")
		case <-waited:
			logger.Info("acquisition finished")
		}
		return mgr.Shutdown()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func inspect(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	rec, err := daqlog.Load(f, inspectStart, inspectEnd)
	if err != nil {
		return fmt.Errorf("load recording: %w", err)
	}

	fmt.Fprintf(w, "Product:     %s\n", rec.Product)
	fmt.Fprintf(w, "Mode:        %d\n", rec.Mode)
	fmt.Fprintf(w, "Averaging:   %d\n", rec.Averaging)
	fmt.Fprintf(w, "Sample rate: %.3f Sa/s\n", rec.SampleRate)
	fmt.Fprintf(w, "Records:     %d (%.6f s)\n", rec.Total, rec.Duration())
	fmt.Fprintf(w, "Window:      %d records from %.6f s\n", len(rec.Values), rec.Start)
	if len(rec.Values) == 0 {
		return nil
	}

	st := convert.Summarise(rec.Values)
	fmt.Fprintf(w, "Max:         %.5f V\n", st.Max)
	fmt.Fprintf(w, "Min:         %.5f V\n", st.Min)
	fmt.Fprintf(w, "Mean:        %.5f V\n", st.Mean)
	fmt.Fprintf(w, "RMS:         %.5f V\n", st.RMS)
	return nil
}
