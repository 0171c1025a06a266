package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"node.town/scribe/realtime"
	"node.town/scribe/wav"
)

const DefaultGeminiModel = "gemini-1.5-flash"

const geminiInstruction = `You are a speech recognizer. Reply with the words spoken in the audio and nothing else.

If nothing intelligible is spoken, reply with an empty message.`

// GeminiRecognizer sends each window to Gemini as an inline WAV blob.
type GeminiRecognizer struct {
	model *genai.GenerativeModel
}

func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

func NewGeminiRecognizer(client *genai.Client, modelName string) *GeminiRecognizer {
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	model := client.GenerativeModel(modelName)
	model.GenerationConfig.SetTemperature(0)
	model.GenerationConfig.SetMaxOutputTokens(2048)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(geminiInstruction)},
	}
	return &GeminiRecognizer{model: model}
}

func (g *GeminiRecognizer) Recognize(ctx context.Context, req Recognition) (string, error) {
	resp, err := g.model.GenerateContent(
		ctx,
		genai.Text(geminiPrompt(req)),
		genai.Blob{MIMEType: "audio/wav", Data: wav.Encode(req.Samples, req.SampleRate)},
	)
	if err != nil {
		return "", fmt.Errorf("gemini transcription failed: %w", err)
	}
	return strings.TrimSpace(responseText(resp)), nil
}

func geminiPrompt(req Recognition) string {
	var prompt strings.Builder
	if req.Task == realtime.TaskTranslate {
		prompt.WriteString("Translate the speech in this audio into English.")
	} else {
		prompt.WriteString("Transcribe this audio verbatim.")
	}
	if req.Language != nil {
		fmt.Fprintf(&prompt, " The speaker is using language code %q.", *req.Language)
	}
	return prompt.String()
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return text.String()
}
