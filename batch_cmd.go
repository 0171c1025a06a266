package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"node.town/scribe/config"
	"node.town/scribe/remote"
)

var batchCmd = &cobra.Command{
	Use:   "batch <audio-file>",
	Short: "Transcribe an audio file in a single request",
	Long: `Upload a WAV or raw 16-bit PCM file to an OpenAI-compatible
/audio/transcriptions endpoint and print the text.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().String("language", "auto", "Language code, or auto")
}

func runBatch(cmd *cobra.Command, args []string) error {
	_, injector, err := bootstrap()
	if err != nil {
		return err
	}
	batchLogger := do.MustInvokeNamed[*log.Logger](injector, "batch")
	settings := do.MustInvoke[*config.Settings](injector)

	client, err := do.Invoke[*remote.Client](injector)
	if err != nil {
		return err
	}
	language, _ := cmd.Flags().GetString("language")

	audio, err := loadAudio(args[0], settings.Realtime.SampleRate)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model := client.Model()
	batchLogger.Info("transcribing", "file", args[0], "model", model.ID, "duration", audio.Duration())

	text, err := client.TranscribePCM16(ctx, audio.Samples, audio.SampleRate, language)
	if err != nil {
		var statusErr *remote.StatusError
		if errors.As(err, &statusErr) {
			batchLogger.Error(
				"request rejected",
				"status", statusErr.Status,
				"body", statusErr.Body,
			)
		}
		return err
	}

	fmt.Println(text)
	return nil
}
