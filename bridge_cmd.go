package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/bridge"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve the realtime protocol on top of a batch recognizer",
	Long: `Run a websocket server at /ws that speaks the realtime transcription
protocol, decoding audio with a remote OpenAI-compatible model or Gemini.
Useful for developing clients without a streaming recognizer.`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().String("addr", "", "Listen address")
	bridgeCmd.Flags().String("backend", "", "Recognizer backend: remote or gemini")

	viper.BindPFlag("bridge.addr", bridgeCmd.Flags().Lookup("addr"))
	viper.BindPFlag("bridge.backend", bridgeCmd.Flags().Lookup("backend"))
}

func runBridge(cmd *cobra.Command, args []string) error {
	settings, injector, err := bootstrap()
	if err != nil {
		return err
	}
	bridgeLogger := do.MustInvokeNamed[*log.Logger](injector, "bridge")

	recognizer, err := do.Invoke[bridge.Recognizer](injector)
	if err != nil {
		return err
	}

	cfg := bridge.DefaultConfig()
	cfg.SampleRate = settings.Realtime.SampleRate
	cfg.Logger = bridgeLogger

	server := &http.Server{
		Addr:    settings.Bridge.Addr,
		Handler: bridge.NewServer(recognizer, cfg).Handler(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			bridgeLogger.Error("shutdown failed", "error", err)
		}
	}()

	bridgeLogger.Info(
		"listening",
		"addr", settings.Bridge.Addr,
		"backend", settings.Bridge.Backend,
		"sample_rate", cfg.SampleRate,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	bridgeLogger.Info("stopped")
	return nil
}
