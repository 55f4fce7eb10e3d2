package catalog

// NarrativePosition is where a beat sits in the story arc.
type NarrativePosition string

const (
	PositionOpening NarrativePosition = "opening"
	PositionMiddle  NarrativePosition = "middle"
	PositionClosing NarrativePosition = "closing"
)

// Role is the shot's job in the ad. The asset selector keys its inclusion
// policy off this together with NarrativePosition.
type Role string

const (
	RoleIntro      Role = "intro"
	RoleHero       Role = "hero"
	RoleShowcase   Role = "showcase"
	RoleDetail     Role = "detail"
	RoleLifestyle  Role = "lifestyle"
	RoleTransition Role = "transition"
	RoleCTA        Role = "cta"
)

// Beat is a reusable shot template.
type Beat struct {
	ID                string            `yaml:"id" json:"id"`
	Duration          int               `yaml:"duration" json:"duration"`
	ShotType          string            `yaml:"shot_type" json:"shot_type"`
	CameraMovement    string            `yaml:"camera_movement" json:"camera_movement"`
	NarrativePosition NarrativePosition `yaml:"narrative_position" json:"narrative_position"`
	Role              Role              `yaml:"role" json:"role"`
	PromptTemplate    string            `yaml:"prompt_template" json:"prompt_template"`
	EnergyLevel       string            `yaml:"energy_level" json:"energy_level"`
}

// Archetype is a named narrative shape with a default beat sequence.
type Archetype struct {
	ID                    string   `yaml:"id" json:"id"`
	SuggestedBeatSequence []string `yaml:"suggested_beat_sequence" json:"suggested_beat_sequence"`
	StyleHints            []string `yaml:"style_hints" json:"style_hints"`
	NarrativeStructure    string   `yaml:"narrative_structure" json:"narrative_structure"`
}

// Backend describes an image-to-video generation model as it actually
// behaves. ActualOutputDuration is the measured clip length, whatever
// duration the request asks for.
type Backend struct {
	ID                   string  `yaml:"id" json:"id"`
	ActualOutputDuration int     `yaml:"actual_output_duration" json:"actual_output_duration"`
	DurationIsSteerable  bool    `yaml:"duration_is_steerable" json:"duration_is_steerable"`
	CostPerCall          float64 `yaml:"cost_per_call" json:"cost_per_call"`
	MaxReferenceImages   int     `yaml:"max_reference_images" json:"max_reference_images"`
	PromptParam          string  `yaml:"prompt_param" json:"prompt_param"`
	ImageParam           string  `yaml:"image_param" json:"image_param"`
	DurationParam        string  `yaml:"duration_param" json:"duration_param,omitempty"`
}
