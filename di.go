package main

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/google/generative-ai-go/genai"
	"github.com/samber/do/v2"
	"github.com/spf13/viper"

	"node.town/scribe/bridge"
	"node.town/scribe/config"
	"node.town/scribe/remote"
)

func setupDI(settings *config.Settings) do.Injector {
	injector := do.New()

	mainLogger, liveLogger, batchLogger, bridgeLogger := createLoggers(settings.Debug)
	do.ProvideValue(injector, settings)
	do.ProvideNamedValue(injector, "main", mainLogger)
	do.ProvideNamedValue(injector, "live", liveLogger)
	do.ProvideNamedValue(injector, "batch", batchLogger)
	do.ProvideNamedValue(injector, "bridge", bridgeLogger)

	do.Provide(injector, func(i do.Injector) (*remote.Client, error) {
		s := do.MustInvoke[*config.Settings](i)
		model, err := s.Model(viper.GetString("model"))
		if err != nil {
			return nil, err
		}
		return remote.NewClient(
			model,
			remote.WithLogger(do.MustInvokeNamed[*log.Logger](i, "batch")),
		)
	})

	do.Provide(injector, func(i do.Injector) (*genai.Client, error) {
		s := do.MustInvoke[*config.Settings](i)
		if s.Bridge.GeminiAPIKey == "" {
			return nil, errors.New("bridge.gemini_api_key (or GEMINI_API_KEY) is required for the gemini backend")
		}
		return bridge.NewGeminiClient(context.Background(), s.Bridge.GeminiAPIKey)
	})

	do.Provide(injector, func(i do.Injector) (bridge.Recognizer, error) {
		s := do.MustInvoke[*config.Settings](i)
		switch s.Bridge.Backend {
		case config.BackendGemini:
			client, err := do.Invoke[*genai.Client](i)
			if err != nil {
				return nil, err
			}
			return bridge.NewGeminiRecognizer(client, s.Bridge.GeminiModel), nil
		default:
			client, err := do.Invoke[*remote.Client](i)
			if err != nil {
				return nil, err
			}
			return bridge.NewRemoteRecognizer(client), nil
		}
	})

	return injector
}
