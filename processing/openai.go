package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Kenji11/aivideo-sub002/retry"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Settings configures the OpenAI-backed collaborators.
type Settings struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

// NewClient builds an OpenAI client. The SDK's own retries are disabled:
// callers retry through the retry package.
func NewClient(s Settings) (openai.Client, error) {
	if s.APIKey == "" {
		return openai.Client{}, errors.New("OPENAI_API_KEY not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(s.APIKey), option.WithMaxRetries(0)}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	return openai.NewClient(opts...), nil
}

func chatModel(s Settings) openai.ChatModel {
	if s.Model == "" {
		return openai.ChatModelGPT4oMini
	}
	return openai.ChatModel(s.Model)
}

// GenerateSchema generates a JSON schema for structured outputs
func GenerateSchema[T any]() interface{} {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// getStructuredResponse calls the chat API with JSON schema enforcement and
// decodes the reply into T.
func getStructuredResponse[T any](ctx context.Context, client openai.Client, model openai.ChatModel, name, system, prompt string, schema interface{}) (*T, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String("Structured data response"),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}

	chatCompletion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Model: model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	})
	if err != nil {
		return nil, classify("chat completion", err)
	}

	if len(chatCompletion.Choices) == 0 {
		return nil, retry.Transient("chat completion", errors.New("no response from OpenAI"))
	}

	rawResponse := chatCompletion.Choices[0].Message.Content
	if rawResponse == "" {
		return nil, fmt.Errorf("OpenAI returned empty response. Finish reason: %s", chatCompletion.Choices[0].FinishReason)
	}

	var structuredResponse T
	if err := json.Unmarshal([]byte(rawResponse), &structuredResponse); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAI JSON response: %w\nRaw content: %s", err, rawResponse)
	}
	return &structuredResponse, nil
}

// classify marks rate limits and server errors as transient.
func classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return retry.Transient(op, err)
		}
		return fmt.Errorf("OpenAI API error: %w", err)
	}
	if retry.IsTransient(err) {
		return err
	}
	// Anything without an HTTP status is a transport failure.
	return retry.Transient(op, err)
}
