package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/ivan3bx/enginetest"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch the target, send commands and wait for expected console lines",
	Long: `Run sets up and launches the target, connects to its remote console, then
sends each --command in order and waits for each --expect pattern in order.
Everything is torn down and settings restored before exiting.`,
	RunE: runScript,
}

func init() {
	flags := runCmd.Flags()
	flags.String("level", "", "level to load on start")
	flags.StringArray("command", nil, "console command to send, repeatable")
	flags.StringArray("expect", nil, "regular expression a console line must match, repeatable")
	flags.Duration("timeout", time.Second*30, "how long to wait for each expected line")
	flags.Bool("no-console", false, "do not connect to the remote console")
	flags.Bool("tail", false, "follow the game log")
	flags.Bool("trace", false, "print lifecycle spans to stderr")
}

func runScript(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	level, _ := flags.GetString("level")
	commands, _ := flags.GetStringArray("command")
	expects, _ := flags.GetStringArray("expect")
	timeout, _ := flags.GetDuration("timeout")

	if off, _ := flags.GetBool("no-console"); off {
		cfg.Console.Enabled = false
	}
	if tail, _ := flags.GetBool("tail"); tail {
		cfg.TailLog = true
	}

	if !cfg.Console.Enabled && (len(commands) > 0 || len(expects) > 0) {
		return errors.New("--command and --expect need the remote console")
	}

	if trace, _ := flags.GetBool("trace"); trace {
		shutdown, err := installTracing(os.Stderr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h, err := newHarness(enginetest.DetectHost(), cfg, level, lineWriter{cmd.OutOrStdout()}, nil)
	if err != nil {
		return err
	}
	defer h.Close()

	log.WithFields(log.Fields{"run": h.artifacts.RunID, "artifacts": h.artifacts.Dir()}).Info("run started")

	if err := h.Start(ctx); err != nil {
		return err
	}

	err = script(h, commands, expects, timeout)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second*30)
	defer stopCancel()

	return errors.Join(err, h.Stop(stopCtx))
}

// script sends commands then waits for each pattern in turn.
func script(h *harness, commands, expects []string, timeout time.Duration) error {
	for _, c := range commands {
		if err := h.Command(c); err != nil {
			return err
		}
	}

	for _, pattern := range expects {
		line, err := h.Expect(pattern, timeout)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"pattern": pattern, "line": line}).Info("matched")
	}

	return nil
}

func installTracing(w io.Writer) (func(), error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)

	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("flushing traces")
		}
	}, nil
}

// lineWriter prints each write as a line.
type lineWriter struct {
	w io.Writer
}

func (l lineWriter) Write(p []byte) (int, error) {
	if _, err := fmt.Fprintf(l.w, "%s\n", p); err != nil {
		return 0, err
	}
	return len(p), nil
}
