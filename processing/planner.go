package processing

import (
	"context"
	"fmt"
	"strings"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/videospec"
	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"
)

var plannerOutputSchema = GenerateSchema[videospec.PlannerOutput]()

// Planner asks the LLM for an archetype, a beat sequence and a style. Its
// output is untrusted and goes through videospec.Builder.
type Planner struct {
	client  openai.Client
	model   openai.ChatModel
	catalog *catalog.Catalog
	logger  *zap.Logger
}

func NewPlanner(client openai.Client, s Settings, cat *catalog.Catalog, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{client: client, model: chatModel(s), catalog: cat, logger: logger}
}

// Plan drafts a plan for a video of totalDuration seconds.
func (p *Planner) Plan(ctx context.Context, prompt string, totalDuration int) (videospec.PlannerOutput, error) {
	resp, err := getStructuredResponse[videospec.PlannerOutput](ctx, p.client, p.model,
		"video_plan", plannerSystemPrompt(p.catalog), plannerUserPrompt(prompt, totalDuration), plannerOutputSchema)
	if err != nil {
		return videospec.PlannerOutput{}, fmt.Errorf("plan video: %w", err)
	}
	p.logger.Info("planner output",
		zap.String("archetype", resp.ArchetypeID),
		zap.Int("beats", len(resp.BeatSequence)),
		zap.Bool("opening_logo_fits", resp.OpeningLogoFits),
	)
	return *resp, nil
}

func plannerSystemPrompt(cat *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("You plan short vertical advertisement videos as a sequence of timed shots (beats).\n\n")
	b.WriteString("Archetypes:\n")
	for _, a := range cat.Archetypes() {
		fmt.Fprintf(&b, "- %s: %s. Suggested beats: %s. Style hints: %s\n",
			a.ID, a.NarrativeStructure, strings.Join(a.SuggestedBeatSequence, ", "), strings.Join(a.StyleHints, ", "))
	}
	b.WriteString("\nBeats (id, typical duration, position, shot):\n")
	for _, beat := range cat.Beats() {
		fmt.Fprintf(&b, "- %s, %ds, %s, %s\n", beat.ID, beat.Duration, beat.NarrativePosition, beat.ShotType)
	}
	durations := make([]string, 0, len(cat.AllowedDurations()))
	for _, d := range cat.AllowedDurations() {
		durations = append(durations, fmt.Sprintf("%d", d))
	}
	fmt.Fprintf(&b, `
Rules:
- Use only the archetype and beat ids listed above.
- Every beat duration must be one of: %s seconds.
- Beat durations must add up exactly to the requested total.
- Start with an opening beat and end with a closing beat.
- Set opening_logo_fits to true only when the brand identity should be visible from the first shot.`, strings.Join(durations, ", "))
	return b.String()
}

func plannerUserPrompt(prompt string, totalDuration int) string {
	return fmt.Sprintf("Requested total duration: %d seconds.\nAd brief: %s", totalDuration, prompt)
}
