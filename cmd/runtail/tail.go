package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	runstream "github.com/stoewer/go-runstream"
	"github.com/stoewer/go-runstream/event"
)

const (
	defaultAddr    = "http://127.0.0.1:7700"
	defaultTimeout = 10 * time.Second
)

func newClient() *runstream.Client {
	options := &runstream.ClientOptions{
		ConnectionTimeout: viper.GetDuration("timeout"),
		Logger:            &log.Logger,
	}
	if token := viper.GetString("token"); token != "" {
		options.TokenProvider = runstream.StaticToken(token)
	}
	if viper.GetBool("trace") {
		options.Middleware = runstream.NewTracingMiddleware(&runstream.TracingOptions{ComponentName: "runtail"})
	}
	return runstream.New(viper.GetString("addr"), options)
}

func newEventsCommand() *cobra.Command {
	var (
		after  int64
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print the events of a run as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return tailEvents(ctx, newClient(), args[0], after, follow, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "Only replay events from this timestamp (ms since epoch) on")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep reconnecting after the daemon ended the stream")

	return cmd
}

func newOutputCommand() *cobra.Command {
	var (
		offset int64
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "output <run-id>",
		Short: "Print the raw output of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return tailOutput(ctx, newClient(), args[0], offset, follow, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "Start at this byte offset")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep reconnecting after the daemon ended the stream")

	return cmd
}

func newWatchCommand() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Print the raw output of a run and log its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := newClient()
			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return tailEvents(ctx, client, args[0], 0, follow, nil)
			})
			group.Go(func() error {
				return tailOutput(ctx, client, args[0], 0, follow, cmd.OutOrStdout())
			})
			return group.Wait()
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep reconnecting after the daemon ended the streams")

	return cmd
}

// tailEvents prints the event stream until the daemon ends it, or until ctx is done if follow is set.
// Events are written as JSON lines to out, or logged if out is nil.
func tailEvents(ctx context.Context, client *runstream.Client, runID string, after int64, follow bool, out io.Writer) error {
	stream := runstream.NewEventStream(client, runID, nil)
	stream.ConnectAfter(after)
	defer stream.Disconnect()

	var encoder *json.Encoder
	if out != nil {
		encoder = json.NewEncoder(out)
	}

	err := runstream.Consume(ctx, stream, runstream.Handlers{
		OnEvent: func(e *event.Event) error {
			if encoder == nil {
				log.Info().
					Str("event_type", e.EventType).
					Str("step_id", e.StepID).
					Int64("timestamp", e.Timestamp).
					Msg("event")
				return nil
			}
			return encoder.Encode(e)
		},
		OnError:     logStreamError,
		OnReconnect: logReconnect(runID, "events"),
		StopAtEnd:   !follow,
	})

	return ignoreCanceled(err)
}

// tailOutput copies the content of all chunks to out until the daemon ends the stream, or until ctx is
// done if follow is set.
func tailOutput(ctx context.Context, client *runstream.Client, runID string, offset int64, follow bool, out io.Writer) error {
	stream := runstream.NewOutputStream(client, runID, nil)
	stream.ConnectAt(offset)
	defer stream.Disconnect()

	err := runstream.Consume(ctx, stream, runstream.Handlers{
		OnOutput: func(chunk *event.OutputChunk) error {
			_, err := io.WriteString(out, chunk.Content)
			return err
		},
		OnError:     logStreamError,
		OnReconnect: logReconnect(runID, "output"),
		StopAtEnd:   !follow,
	})

	return ignoreCanceled(err)
}

func logStreamError(err error) {
	log.Warn().Err(err).Msg("stream error")
}

func logReconnect(runID, stream string) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, cause error) {
		log.Info().
			Str("run_id", runID).
			Str("stream", stream).
			Int("attempt", attempt).
			Dur("wait", wait).
			AnErr("cause", cause).
			Msg("reconnecting")
	}
}

// ignoreCanceled treats an interrupt and the end of a stream as a regular exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, runstream.ErrStreamEnded) {
		return nil
	}
	return err
}
