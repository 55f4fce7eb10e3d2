package processing

import (
	"context"
	"fmt"
	"strings"

	"github.com/Kenji11/aivideo-sub002/videospec"
	"github.com/openai/openai-go/v3"
)

var entitiesSchema = GenerateSchema[videospec.Entities]()

const extractorSystemPrompt = `You extract facts from an advertisement brief.
Return the product name, the brand name, the product category and a few visual style keywords.
Use an empty string when the brief does not name a product or brand. Do not invent names.`

// EntityExtractor pulls product, brand, category and style keywords out of
// the user's prompt.
type EntityExtractor struct {
	client openai.Client
	model  openai.ChatModel
}

func NewEntityExtractor(client openai.Client, s Settings) *EntityExtractor {
	return &EntityExtractor{client: client, model: chatModel(s)}
}

func (x *EntityExtractor) Extract(ctx context.Context, prompt string) (videospec.Entities, error) {
	resp, err := getStructuredResponse[videospec.Entities](ctx, x.client, x.model, "prompt_entities", extractorSystemPrompt, prompt, entitiesSchema)
	if err != nil {
		return videospec.Entities{}, fmt.Errorf("extract entities: %w", err)
	}
	e := *resp
	e.Product = strings.TrimSpace(e.Product)
	e.Brand = strings.TrimSpace(e.Brand)
	e.Category = strings.TrimSpace(e.Category)
	return e, nil
}
