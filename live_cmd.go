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

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"node.town/scribe/realtime"
	"node.town/scribe/transcript"
)

var liveCmd = &cobra.Command{
	Use:   "live <audio-file>",
	Short: "Stream an audio file to a realtime transcription server",
	Long: `Stream a WAV or raw 16-bit PCM file to a realtime transcription server in
fixed-size frames, paced like a live microphone, and print the transcript.`,
	Args: cobra.ExactArgs(1),
	RunE: runLive,
}

func init() {
	liveCmd.Flags().String("url", "", "Realtime server websocket URL")
	liveCmd.Flags().String("token", "", "Bearer token for the realtime server")
	liveCmd.Flags().String("language", "", "Language code, or auto")
	liveCmd.Flags().String("task", "", "transcribe or translate")
	liveCmd.Flags().Uint32("beam-size", 0, "Decoder beam size")
	liveCmd.Flags().Bool("tui", false, "Show the transcript in a full-screen view")
	liveCmd.Flags().
		Bool("no-pace", false, "Send frames as fast as possible instead of in real time")

	viper.BindPFlag("realtime.url", liveCmd.Flags().Lookup("url"))
	viper.BindPFlag("realtime.token", liveCmd.Flags().Lookup("token"))
	viper.BindPFlag("realtime.language", liveCmd.Flags().Lookup("language"))
	viper.BindPFlag("realtime.task", liveCmd.Flags().Lookup("task"))
	viper.BindPFlag("realtime.beam_size", liveCmd.Flags().Lookup("beam-size"))
}

func runLive(cmd *cobra.Command, args []string) error {
	settings, injector, err := bootstrap()
	if err != nil {
		return err
	}
	liveLogger := do.MustInvokeNamed[*log.Logger](injector, "live")

	useTUI, _ := cmd.Flags().GetBool("tui")
	noPace, _ := cmd.Flags().GetBool("no-pace")

	audio, err := loadAudio(args[0], settings.Realtime.SampleRate)
	if err != nil {
		return err
	}
	if audio.SampleRate != settings.Realtime.SampleRate {
		return fmt.Errorf(
			"%s is sampled at %d Hz but the stream expects %d Hz",
			args[0],
			audio.SampleRate,
			settings.Realtime.SampleRate,
		)
	}

	frames := realtime.Frames(audio.Samples, settings.FrameSize())
	interval := time.Duration(settings.Realtime.FrameMS) * time.Millisecond
	if noPace {
		interval = 0
	}
	liveLogger.Info(
		"loaded audio",
		"file", args[0],
		"duration", audio.Duration(),
		"frames", len(frames),
	)

	if useTUI {
		liveLogger.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := realtime.Dial(
		ctx,
		settings.Realtime.URL,
		settings.RealtimeConfig(),
		realtime.WithLogger(liveLogger),
		realtime.WithBearerToken(settings.Realtime.Token),
	)
	if err != nil {
		return err
	}
	defer session.Close()

	consume := func(messages <-chan realtime.Message) error {
		fmt.Println(printTranscript(messages, liveLogger))
		return nil
	}
	if useTUI {
		consume = func(messages <-chan realtime.Message) error {
			model := transcript.NewModel("Live Transcription", messages)
			_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		}
	}

	err = runSession(ctx, session, frames, interval, liveLogger, consume)
	if ctx.Err() != nil {
		liveLogger.Warn("interrupted")
	}
	return err
}

type frameSender interface {
	SendFrame(samples []int16) error
	Stop() error
}

type messageSource interface {
	NextMessage(ctx context.Context) (realtime.Message, error)
}

type liveSession interface {
	frameSender
	messageSource
	Close() error
}

// runSession streams frames from one goroutine while another drains the
// session, and hands received messages to consume. It returns once the
// stream has ended or consume has returned.
func runSession(
	ctx context.Context,
	session liveSession,
	frames [][]int16,
	interval time.Duration,
	logger *log.Logger,
	consume func(<-chan realtime.Message) error,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	messages := make(chan realtime.Message)

	g.Go(func() error {
		<-ctx.Done()
		session.Close()
		return nil
	})
	g.Go(func() error {
		return streamFrames(ctx, session, frames, interval)
	})
	g.Go(func() error {
		defer close(messages)
		return drain(ctx, session, messages, logger)
	})
	g.Go(func() error {
		defer cancel()
		return consume(messages)
	})

	return g.Wait()
}

// streamFrames sends one frame per tick, or back to back when interval is
// zero, and stops the session after the last one.
func streamFrames(
	ctx context.Context,
	sender frameSender,
	frames [][]int16,
	interval time.Duration,
) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for _, frame := range frames {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		if err := sender.SendFrame(frame); err != nil {
			return senderError(err)
		}
	}
	return senderError(sender.Stop())
}

// senderError drops state errors: they mean the session was closed
// underneath the sender, and whoever closed it reports why.
func senderError(err error) error {
	var stateErr *realtime.StateError
	if errors.As(err, &stateErr) {
		return nil
	}
	return err
}

func drain(
	ctx context.Context,
	source messageSource,
	messages chan<- realtime.Message,
	logger *log.Logger,
) error {
	for {
		msg, err := source.NextMessage(ctx)
		if err != nil {
			var parseErr *realtime.ParseError
			switch {
			case errors.Is(err, io.EOF), ctx.Err() != nil:
				return nil
			case errors.As(err, &parseErr):
				continue
			default:
				logger.Error("stream failed", "error", err)
				return err
			}
		}

		select {
		case messages <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func printTranscript(messages <-chan realtime.Message, logger *log.Logger) string {
	t := transcript.New()
	for msg := range messages {
		t.Apply(msg)
		if msg.IsFinal() {
			logger.Info("final", "text", msg.Text)
		} else {
			logger.Info("partial", "text", msg.Text)
		}
	}
	return t.String()
}
