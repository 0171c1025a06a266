package main

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write a config file interactively",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

type setupAnswers struct {
	RealtimeURL   string
	RealtimeToken string
	RemoteURL     string
	RemoteKey     string
	Backend       string
	GeminiKey     string
}

func runSetup(cmd *cobra.Command, args []string) error {
	answers := setupAnswers{
		RealtimeURL:   viper.GetString("realtime.url"),
		RealtimeToken: viper.GetString("realtime.token"),
		RemoteURL:     viper.GetString("remote.api_url"),
		RemoteKey:     viper.GetString("remote.api_key"),
		Backend:       viper.GetString("bridge.backend"),
		GeminiKey:     viper.GetString("bridge.gemini_api_key"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Realtime server URL").
				Validate(validateWebsocketURL).
				Value(&answers.RealtimeURL),
			huh.NewInput().
				Title("Realtime bearer token (optional)").
				Value(&answers.RealtimeToken),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Transcription API URL").
				Description("OpenAI-compatible base URL, e.g. https://api.openai.com/v1").
				Validate(validateHTTPURL).
				Value(&answers.RemoteURL),
			huh.NewInput().
				Title("Transcription API key (optional)").
				Value(&answers.RemoteKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Bridge backend").
				Options(huh.NewOptions(config.BackendRemote, config.BackendGemini)...).
				Value(&answers.Backend),
			huh.NewInput().
				Title("Gemini API key (only for the gemini backend)").
				Value(&answers.GeminiKey),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	path := cfgFile
	if path == "" {
		path = "config.yaml"
	}
	if err := writeSetup(path, answers); err != nil {
		return err
	}
	log.Info("Setup completed", "file", path)
	return nil
}

// writeSetup starts from the defaults, applies the answers and writes the
// result as YAML. The file is rejected before writing if it would not load.
func writeSetup(path string, answers setupAnswers) error {
	v := viper.New()
	config.SetDefaults(v)

	v.Set("realtime.url", answers.RealtimeURL)
	v.Set("realtime.token", answers.RealtimeToken)
	v.Set("remote.api_url", answers.RemoteURL)
	v.Set("remote.api_key", answers.RemoteKey)
	v.Set("bridge.backend", answers.Backend)
	v.Set("bridge.gemini_api_key", answers.GeminiKey)

	if _, err := config.Load(v); err != nil {
		return fmt.Errorf("refusing to write config: %w", err)
	}

	v.SetConfigType("yaml")
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func validateWebsocketURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("must be a ws:// or wss:// URL")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must be an http:// or https:// URL")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
