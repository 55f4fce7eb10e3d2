package videospec

import (
	"fmt"
	"strings"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"go.uber.org/zap"
)

// Builder resolves planner output against the catalog and validates the
// timing invariants. The planner is an LLM, so nothing in its output is
// assumed to hold until checked here.
type Builder struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewBuilder creates a Builder over a read-only catalog.
func NewBuilder(cat *catalog.Catalog, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{catalog: cat, logger: logger}
}

// Build turns raw planner output into a VideoSpec whose beat durations sum
// exactly to totalDuration. It never coerces: any violation is a SpecError.
func (b *Builder) Build(out PlannerOutput, totalDuration int) (VideoSpec, error) {
	if _, ok := b.catalog.Archetype(out.ArchetypeID); !ok {
		return VideoSpec{}, &SpecError{Kind: UnknownArchetype, BeatIndex: -1,
			Detail: fmt.Sprintf("archetype %q is not in the catalog", out.ArchetypeID)}
	}
	if len(out.BeatSequence) == 0 {
		return VideoSpec{}, &SpecError{Kind: EmptySequence, BeatIndex: -1, Detail: "planner returned no beats"}
	}
	if totalDuration <= 0 {
		return VideoSpec{}, &SpecError{Kind: DurationMismatch, BeatIndex: -1,
			Detail: fmt.Sprintf("requested total duration %d must be positive", totalDuration)}
	}

	beats := make([]ResolvedBeat, 0, len(out.BeatSequence))
	offset := 0
	for i, choice := range out.BeatSequence {
		def, ok := b.catalog.Beat(choice.BeatID)
		if !ok {
			return VideoSpec{}, &SpecError{Kind: UnknownBeat, BeatIndex: i, BeatID: choice.BeatID,
				Detail: "beat is not in the catalog"}
		}
		duration := choice.Duration
		if !b.catalog.IsAllowedDuration(duration) {
			return VideoSpec{}, &SpecError{Kind: InvalidDuration, BeatIndex: i, BeatID: choice.BeatID,
				Detail: fmt.Sprintf("duration %d not in %v", duration, b.catalog.AllowedDurations())}
		}
		beats = append(beats, ResolvedBeat{
			Index:             i,
			BeatID:            def.ID,
			Duration:          duration,
			StartOffset:       offset,
			ShotType:          def.ShotType,
			CameraMovement:    def.CameraMovement,
			NarrativePosition: def.NarrativePosition,
			Role:              def.Role,
			PromptTemplate:    def.PromptTemplate,
			EnergyLevel:       def.EnergyLevel,
		})
		offset += duration
	}

	if offset != totalDuration {
		return VideoSpec{}, &SpecError{Kind: DurationMismatch, BeatIndex: -1,
			Detail: fmt.Sprintf("beat durations sum to %d, requested %d", offset, totalDuration)}
	}

	spec := VideoSpec{
		ArchetypeID:     out.ArchetypeID,
		TotalDuration:   totalDuration,
		Beats:           beats,
		Style:           out.Style,
		OpeningLogoFits: out.OpeningLogoFits,
	}
	for _, w := range SoftChecks(spec) {
		b.logger.Warn("spec soft check", zap.String("archetype", spec.ArchetypeID), zap.String("warning", w))
	}
	return spec, nil
}

// SoftChecks reports narrative-shape issues that do not invalidate a spec.
func SoftChecks(spec VideoSpec) []string {
	if len(spec.Beats) == 0 {
		return nil
	}
	var warnings []string
	first, last := spec.Beats[0], spec.Beats[len(spec.Beats)-1]
	if first.NarrativePosition != catalog.PositionOpening {
		warnings = append(warnings, fmt.Sprintf("first beat %q is %s, expected opening", first.BeatID, first.NarrativePosition))
	}
	if last.NarrativePosition != catalog.PositionClosing {
		warnings = append(warnings, fmt.Sprintf("last beat %q is %s, expected closing", last.BeatID, last.NarrativePosition))
	}
	return warnings
}

// Summary is a one-line human description used in logs.
func (s VideoSpec) Summary() string {
	parts := make([]string, len(s.Beats))
	for i, b := range s.Beats {
		parts[i] = fmt.Sprintf("%s@%d+%d", b.BeatID, b.StartOffset, b.Duration)
	}
	return fmt.Sprintf("%s [%s] = %d", s.ArchetypeID, strings.Join(parts, ", "), s.TotalDuration)
}
