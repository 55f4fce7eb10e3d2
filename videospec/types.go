package videospec

import (
	"strings"

	"github.com/Kenji11/aivideo-sub002/catalog"
)

// BeatChoice is one planner-selected beat.
type BeatChoice struct {
	BeatID   string `json:"beat_id" jsonschema_description:"Id of a beat from the beat catalog"`
	Duration int    `json:"duration" jsonschema_description:"Beat length in seconds, one of the allowed durations"`
}

// Style is the look shared by every beat of a video.
type Style struct {
	Aesthetic string `json:"aesthetic" jsonschema_description:"Overall visual aesthetic"`
	Palette   string `json:"palette" jsonschema_description:"Color palette"`
	Mood      string `json:"mood" jsonschema_description:"Emotional mood"`
	Lighting  string `json:"lighting" jsonschema_description:"Lighting setup"`
}

// PlannerOutput is the raw, untrusted plan handed to the builder.
type PlannerOutput struct {
	ArchetypeID  string       `json:"archetype_id" jsonschema_description:"Id of the chosen archetype"`
	BeatSequence []BeatChoice `json:"beat_sequence" jsonschema_description:"Ordered beats whose durations sum exactly to the requested total"`
	Style        Style        `json:"style"`
	// OpeningLogoFits is the planner's call on whether a logo belongs in
	// opening beats.
	OpeningLogoFits bool `json:"opening_logo_fits" jsonschema_description:"True when the brand logo should appear in the opening beat"`
}

// Entities are the prompt-derived facts used for prompt rendering and
// asset selection.
type Entities struct {
	Product       string   `json:"product" jsonschema_description:"Product name, empty if none"`
	Brand         string   `json:"brand" jsonschema_description:"Brand name, empty if none"`
	Category      string   `json:"category" jsonschema_description:"Product category"`
	StyleKeywords []string `json:"style_keywords" jsonschema_description:"Visual style keywords from the prompt"`
}

// ResolvedBeat is a catalog beat placed on the video timeline.
type ResolvedBeat struct {
	Index             int                       `json:"index"`
	BeatID            string                    `json:"beat_id"`
	Duration          int                       `json:"duration"`
	StartOffset       int                       `json:"start_offset"`
	ShotType          string                    `json:"shot_type"`
	CameraMovement    string                    `json:"camera_movement"`
	NarrativePosition catalog.NarrativePosition `json:"narrative_position"`
	Role              catalog.Role              `json:"role"`
	PromptTemplate    string                    `json:"prompt_template"`
	EnergyLevel       string                    `json:"energy_level"`
}

// End is the offset one past the beat's last time unit.
func (b ResolvedBeat) End() int { return b.StartOffset + b.Duration }

// RenderPrompt fills the beat's template placeholders. Unknown placeholders
// are left as-is; empty values collapse to a neutral word.
func (b ResolvedBeat) RenderPrompt(e Entities, s Style) string {
	r := strings.NewReplacer(
		"{product}", orDefault(e.Product, "the product"),
		"{brand}", orDefault(e.Brand, "the brand"),
		"{category}", orDefault(e.Category, "everyday"),
		"{aesthetic}", orDefault(s.Aesthetic, "clean"),
		"{palette}", orDefault(s.Palette, "natural"),
		"{mood}", orDefault(s.Mood, "confident"),
		"{lighting}", orDefault(s.Lighting, "soft"),
	)
	return r.Replace(b.PromptTemplate)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Reference is the set of assets anchoring one beat.
type Reference struct {
	AssetIDs  []string `json:"asset_ids"`
	Rationale string   `json:"rationale"`
}

// ReferenceMapping is keyed by beat id.
type ReferenceMapping map[string]Reference

// AssetIDs returns every distinct asset id in the mapping in first-seen
// beat order.
func (m ReferenceMapping) AssetIDs(beats []ResolvedBeat) []string {
	seen := make(map[string]bool)
	var out []string
	for _, b := range beats {
		for _, id := range m[b.BeatID].AssetIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// VideoSpec is the resolved, validated plan for one video.
type VideoSpec struct {
	ArchetypeID      string           `json:"archetype_id"`
	TotalDuration    int              `json:"total_duration"`
	Beats            []ResolvedBeat   `json:"beats"`
	ReferenceMapping ReferenceMapping `json:"reference_mapping,omitempty"`
	Style            Style            `json:"style"`
	OpeningLogoFits  bool             `json:"opening_logo_fits"`
}

// WithReferences returns a copy of s carrying the given mapping.
func (s VideoSpec) WithReferences(m ReferenceMapping) VideoSpec {
	out := s
	out.Beats = append([]ResolvedBeat(nil), s.Beats...)
	out.ReferenceMapping = make(ReferenceMapping, len(m))
	for k, v := range m {
		out.ReferenceMapping[k] = Reference{AssetIDs: append([]string(nil), v.AssetIDs...), Rationale: v.Rationale}
	}
	return out
}
