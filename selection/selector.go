package selection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Kenji11/aivideo-sub002/videospec"
	"go.uber.org/zap"
)

// Kind classifies a reference asset.
type Kind string

const (
	KindProduct Kind = "product"
	KindLogo    Kind = "logo"
	KindOther   Kind = "other"
)

// Asset is a user-owned reference image.
type Asset struct {
	ID             string    `json:"asset_id"`
	Kind           Kind      `json:"kind"`
	PrimarySubject string    `json:"primary_subject"`
	StyleTags      []string  `json:"style_tags"`
	ColorTags      []string  `json:"color_tags"`
	ImageURL       string    `json:"image_url"`
	CreatedAt      time.Time `json:"created_at"`
	UsageCount     int       `json:"usage_count"`
}

// Ranking weights. The three sub-scores are each normalized to [0,1].
const (
	weightSemantic   = 0.6
	weightRecency    = 0.2
	weightPopularity = 0.2
)

// Options tune one selection.
type Options struct {
	// MaxPerBeat caps the assets attached to one beat; 0 means no cap.
	MaxPerBeat      int
	OpeningLogoFits bool
	// Prompt is the user's free-text request used for semantic ranking.
	Prompt string
}

// Selector builds the beat -> asset reference mapping.
type Selector struct {
	similarity Similarity
	logger     *zap.Logger
}

// NewSelector creates a Selector. A nil similarity falls back to
// LexicalSimilarity.
func NewSelector(sim Similarity, logger *zap.Logger) *Selector {
	if sim == nil {
		sim = LexicalSimilarity{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{similarity: sim, logger: logger}
}

type pick struct {
	asset  Asset
	reason string
	// strong is set for priority 1-3 matches, which earn a place in
	// optional slots. Ranking-only picks fill mandatory slots only.
	strong bool
}

// Select maps every beat to the assets that should anchor it. An empty
// asset list returns an empty mapping without ranking anything.
func (s *Selector) Select(ctx context.Context, assets []Asset, e videospec.Entities, beats []videospec.ResolvedBeat, opts Options) (videospec.ReferenceMapping, error) {
	mapping := videospec.ReferenceMapping{}
	if len(assets) == 0 {
		return mapping, nil
	}

	pools := map[Kind][]Asset{}
	for _, a := range assets {
		pools[a.Kind] = append(pools[a.Kind], a)
	}

	best := map[Kind]*pick{}
	for _, k := range []Kind{KindProduct, KindLogo, KindOther} {
		if len(pools[k]) == 0 {
			continue
		}
		p, err := s.bestOf(ctx, pools[k], e, opts.Prompt)
		if err != nil {
			return nil, fmt.Errorf("rank %s assets: %w", k, err)
		}
		best[k] = p
	}

	for _, b := range beats {
		if _, done := mapping[b.BeatID]; done {
			continue
		}
		policy := PolicyFor(b)
		var mandatory, optional []pick

		if p := best[KindProduct]; p != nil {
			switch policy.Product {
			case Always:
				mandatory = append(mandatory, *p)
			case Optional:
				if p.strong {
					optional = append(optional, *p)
				}
			}
		} else if o := best[KindOther]; o != nil && o.strong && policy.Product == Optional {
			optional = append(optional, *o)
		}

		if p := best[KindLogo]; p != nil {
			switch policy.Logo {
			case Always:
				mandatory = append(mandatory, *p)
			case IfFits:
				if opts.OpeningLogoFits {
					optional = append(optional, *p)
				}
			case Optional:
				if p.strong {
					optional = append(optional, *p)
				}
			}
		}

		picks := append(mandatory, optional...)
		if opts.MaxPerBeat > 0 && len(picks) > opts.MaxPerBeat {
			picks = picks[:opts.MaxPerBeat]
		}
		if len(picks) == 0 {
			continue
		}
		ref := videospec.Reference{}
		reasons := make([]string, 0, len(picks))
		for _, p := range picks {
			ref.AssetIDs = append(ref.AssetIDs, p.asset.ID)
			reasons = append(reasons, fmt.Sprintf("%s %s: %s", p.asset.Kind, p.asset.ID, p.reason))
		}
		ref.Rationale = strings.Join(reasons, "; ")
		mapping[b.BeatID] = ref
	}

	s.enforceAlways(mapping, beats, best, opts)
	return mapping, nil
}

// enforceAlways re-applies the "always include" rows so a kind the user owns
// is never missing from a beat that requires it.
func (s *Selector) enforceAlways(mapping videospec.ReferenceMapping, beats []videospec.ResolvedBeat, best map[Kind]*pick, opts Options) {
	for _, k := range []Kind{KindProduct, KindLogo} {
		p := best[k]
		if p == nil {
			continue
		}
		for _, b := range beats {
			if PolicyFor(b).forKind(k) != Always {
				continue
			}
			ref := mapping[b.BeatID]
			if containsID(ref.AssetIDs, p.asset.ID) {
				continue
			}
			s.logger.Warn("re-applying always-include rule",
				zap.String("beat_id", b.BeatID), zap.String("kind", string(k)), zap.String("asset_id", p.asset.ID))
			ids := append([]string{p.asset.ID}, ref.AssetIDs...)
			if opts.MaxPerBeat > 0 && len(ids) > opts.MaxPerBeat {
				ids = ids[:opts.MaxPerBeat]
			}
			ref.AssetIDs = ids
			ref.Rationale = strings.TrimPrefix(ref.Rationale+"; "+fmt.Sprintf("%s %s: required for %s beat", k, p.asset.ID, b.BeatID), "; ")
			mapping[b.BeatID] = ref
		}
	}
}

// bestOf applies the selection priority to one pool, first match wins:
// exact subject, logo brand, category, then the weighted ranking score.
func (s *Selector) bestOf(ctx context.Context, pool []Asset, e videospec.Entities, prompt string) (*pick, error) {
	if e.Product != "" {
		if a, ok := newest(pool, func(a Asset) bool { return strings.EqualFold(strings.TrimSpace(a.PrimarySubject), strings.TrimSpace(e.Product)) }); ok {
			return &pick{asset: a, reason: "exact subject match", strong: true}, nil
		}
	}
	if e.Brand != "" {
		if a, ok := newest(pool, func(a Asset) bool { return a.Kind == KindLogo && mentions(a, e.Brand) }); ok {
			return &pick{asset: a, reason: "logo brand match", strong: true}, nil
		}
	}
	if e.Category != "" {
		if a, ok := newest(pool, func(a Asset) bool { return mentions(a, e.Category) }); ok {
			return &pick{asset: a, reason: "category match", strong: true}, nil
		}
	}

	ranked, err := s.Rank(ctx, pool, rankingQuery(prompt, e))
	if err != nil {
		return nil, err
	}
	top := ranked[0]
	return &pick{asset: top.Asset, reason: fmt.Sprintf("ranking score %.3f", top.Score)}, nil
}

// Scored is an asset with its ranking breakdown.
type Scored struct {
	Asset      Asset
	Semantic   float64
	Recency    float64
	Popularity float64
	Score      float64
}

// Rank orders pool by 0.6*semantic + 0.2*recency + 0.2*popularity, newest
// first on ties.
func (s *Selector) Rank(ctx context.Context, pool []Asset, query string) ([]Scored, error) {
	if len(pool) == 0 {
		return nil, nil
	}
	docs := make([]string, len(pool))
	for i, a := range pool {
		docs[i] = assetText(a)
	}
	sims, err := s.similarity.Score(ctx, query, docs)
	if err != nil || len(sims) != len(pool) {
		s.logger.Warn("similarity provider failed, using lexical scores", zap.Error(err))
		sims, _ = LexicalSimilarity{}.Score(ctx, query, docs)
	}

	oldest, newestAt := pool[0].CreatedAt, pool[0].CreatedAt
	maxUsage := 0
	for _, a := range pool {
		if a.CreatedAt.Before(oldest) {
			oldest = a.CreatedAt
		}
		if a.CreatedAt.After(newestAt) {
			newestAt = a.CreatedAt
		}
		if a.UsageCount > maxUsage {
			maxUsage = a.UsageCount
		}
	}
	span := newestAt.Sub(oldest)

	out := make([]Scored, len(pool))
	for i, a := range pool {
		rec := 1.0
		if span > 0 {
			rec = float64(a.CreatedAt.Sub(oldest)) / float64(span)
		}
		pop := 0.0
		if maxUsage > 0 {
			pop = float64(a.UsageCount) / float64(maxUsage)
		}
		sem := clamp01(sims[i])
		out[i] = Scored{
			Asset:      a,
			Semantic:   sem,
			Recency:    rec,
			Popularity: pop,
			Score:      weightSemantic*sem + weightRecency*rec + weightPopularity*pop,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Asset.CreatedAt.Equal(out[j].Asset.CreatedAt) {
			return out[i].Asset.CreatedAt.After(out[j].Asset.CreatedAt)
		}
		return out[i].Asset.ID < out[j].Asset.ID
	})
	return out, nil
}

func newest(pool []Asset, match func(Asset) bool) (Asset, bool) {
	var found Asset
	ok := false
	for _, a := range pool {
		if !match(a) {
			continue
		}
		if !ok || a.CreatedAt.After(found.CreatedAt) {
			found, ok = a, true
		}
	}
	return found, ok
}

func mentions(a Asset, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	if strings.Contains(strings.ToLower(a.PrimarySubject), term) {
		return true
	}
	for _, t := range a.StyleTags {
		if strings.EqualFold(strings.TrimSpace(t), term) {
			return true
		}
	}
	return false
}

func assetText(a Asset) string {
	parts := append([]string{a.PrimarySubject}, a.StyleTags...)
	parts = append(parts, a.ColorTags...)
	return strings.Join(parts, " ")
}

func rankingQuery(prompt string, e videospec.Entities) string {
	parts := []string{prompt, e.Product, e.Brand, e.Category}
	parts = append(parts, e.StyleKeywords...)
	return strings.Join(parts, " ")
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
