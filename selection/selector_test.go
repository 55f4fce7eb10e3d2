package selection

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/videospec"
)

type countingSimilarity struct {
	calls  int
	scores map[string]float64
}

func (c *countingSimilarity) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	c.calls++
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = c.scores[d]
	}
	return out, nil
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func beat(id string, pos catalog.NarrativePosition, role catalog.Role) videospec.ResolvedBeat {
	return videospec.ResolvedBeat{BeatID: id, Duration: 5, NarrativePosition: pos, Role: role}
}

func adBeats() []videospec.ResolvedBeat {
	return []videospec.ResolvedBeat{
		beat("dynamic_intro", catalog.PositionOpening, catalog.RoleIntro),
		beat("hero_shot", catalog.PositionMiddle, catalog.RoleHero),
		beat("action_montage", catalog.PositionMiddle, catalog.RoleLifestyle),
		beat("scene_transition", catalog.PositionMiddle, catalog.RoleTransition),
		beat("call_to_action", catalog.PositionClosing, catalog.RoleCTA),
	}
}

func TestSelectEmptyAssetsIsFree(t *testing.T) {
	sim := &countingSimilarity{}
	m, err := NewSelector(sim, nil).Select(context.Background(), nil, videospec.Entities{Product: "x"}, adBeats(), Options{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Fatalf("expected empty non-nil mapping, got %#v", m)
	}
	if sim.calls != 0 {
		t.Fatalf("expected no similarity calls, got %d", sim.calls)
	}
}

func TestSelectAlwaysIncludesProductInProductBeats(t *testing.T) {
	assets := []Asset{
		{ID: "p1", Kind: KindProduct, PrimarySubject: "running shoe", CreatedAt: base},
		{ID: "p2", Kind: KindProduct, PrimarySubject: "water bottle", CreatedAt: base.Add(time.Hour)},
	}
	// Nothing matches the entities, so the pick comes from ranking alone.
	m, err := NewSelector(nil, nil).Select(context.Background(), assets,
		videospec.Entities{Product: "jacket", Category: "outerwear"}, adBeats(), Options{Prompt: "winter jacket ad"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for _, b := range adBeats() {
		if PolicyFor(b).Product != Always {
			continue
		}
		if len(m[b.BeatID].AssetIDs) == 0 {
			t.Fatalf("beat %s requires a product asset but mapping is empty", b.BeatID)
		}
	}
	if _, ok := m["scene_transition"]; ok {
		t.Fatalf("transition beats must never carry assets")
	}
	if _, ok := m["dynamic_intro"]; ok {
		t.Fatalf("weak ranking match should not fill an optional opening slot")
	}
}

func TestSelectLogoPolicy(t *testing.T) {
	assets := []Asset{
		{ID: "logo1", Kind: KindLogo, PrimarySubject: "Strido wordmark", CreatedAt: base},
	}
	sel := NewSelector(nil, nil)
	m, err := sel.Select(context.Background(), assets, videospec.Entities{Brand: "Nope"}, adBeats(), Options{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := m["call_to_action"].AssetIDs; len(got) != 1 || got[0] != "logo1" {
		t.Fatalf("closing beat must carry the logo, got %v", got)
	}
	if _, ok := m["dynamic_intro"]; ok {
		t.Fatalf("opening logo included without the planner hint")
	}

	m, err = sel.Select(context.Background(), assets, videospec.Entities{}, adBeats(), Options{OpeningLogoFits: true})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := m["dynamic_intro"].AssetIDs; len(got) != 1 || got[0] != "logo1" {
		t.Fatalf("opening beat should carry the logo when it fits, got %v", got)
	}
}

func TestSelectPriorityExactSubjectBeatsRanking(t *testing.T) {
	assets := []Asset{
		{ID: "exact", Kind: KindProduct, PrimarySubject: "AirRun 2", CreatedAt: base, UsageCount: 0},
		{ID: "popular", Kind: KindProduct, PrimarySubject: "sneaker lifestyle", CreatedAt: base.Add(48 * time.Hour), UsageCount: 50},
	}
	sim := &countingSimilarity{scores: map[string]float64{"sneaker lifestyle": 1}}
	m, err := NewSelector(sim, nil).Select(context.Background(), assets,
		videospec.Entities{Product: "airrun 2"}, adBeats(), Options{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := m["hero_shot"].AssetIDs[0]; got != "exact" {
		t.Fatalf("expected exact subject match, got %s", got)
	}
	if sim.calls != 0 {
		t.Fatalf("ranking should not run when a priority match exists")
	}
	// A strong match also fills the optional product slot on the opening beat.
	if got := m["dynamic_intro"].AssetIDs; len(got) != 1 || got[0] != "exact" {
		t.Fatalf("expected strong product in opening beat, got %v", got)
	}
}

func TestSelectBrandMatchOnLogo(t *testing.T) {
	assets := []Asset{
		{ID: "old-logo", Kind: KindLogo, PrimarySubject: "generic mark", CreatedAt: base.Add(time.Hour)},
		{ID: "brand-logo", Kind: KindLogo, PrimarySubject: "strido logo", CreatedAt: base},
	}
	m, err := NewSelector(nil, nil).Select(context.Background(), assets,
		videospec.Entities{Brand: "Strido"}, adBeats(), Options{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := m["call_to_action"].AssetIDs[0]; got != "brand-logo" {
		t.Fatalf("expected brand match, got %s", got)
	}
}

func TestSelectCategoryMatch(t *testing.T) {
	assets := []Asset{
		{ID: "a", Kind: KindProduct, PrimarySubject: "thing", StyleTags: []string{"Footwear"}, CreatedAt: base},
		{ID: "b", Kind: KindProduct, PrimarySubject: "other thing", CreatedAt: base.Add(time.Hour)},
	}
	m, err := NewSelector(nil, nil).Select(context.Background(), assets,
		videospec.Entities{Product: "unknown", Category: "footwear"}, adBeats(), Options{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := m["hero_shot"].AssetIDs[0]; got != "a" {
		t.Fatalf("expected category match a, got %s", got)
	}
}

func TestSelectCapsReferencesPerBeat(t *testing.T) {
	assets := []Asset{
		{ID: "prod", Kind: KindProduct, PrimarySubject: "AirRun", CreatedAt: base},
		{ID: "logo", Kind: KindLogo, PrimarySubject: "Strido", CreatedAt: base},
	}
	m, err := NewSelector(nil, nil).Select(context.Background(), assets,
		videospec.Entities{Product: "AirRun", Brand: "Strido"}, adBeats(), Options{MaxPerBeat: 1})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	// Closing: logo is mandatory, product optional -> the logo survives the cap.
	if got := m["call_to_action"].AssetIDs; len(got) != 1 || got[0] != "logo" {
		t.Fatalf("expected only the logo on the closing beat, got %v", got)
	}
	if got := m["hero_shot"].AssetIDs; len(got) != 1 || got[0] != "prod" {
		t.Fatalf("expected only the product on the hero beat, got %v", got)
	}
}

func TestRankWeights(t *testing.T) {
	pool := []Asset{
		{ID: "older", PrimarySubject: "same", CreatedAt: base, UsageCount: 2},
		{ID: "newer", PrimarySubject: "same", CreatedAt: base.Add(time.Hour), UsageCount: 4},
		{ID: "newest", PrimarySubject: "fresh", CreatedAt: base.Add(2 * time.Hour), UsageCount: 0},
	}
	sim := &countingSimilarity{scores: map[string]float64{"same": 0.5, "fresh": 0.5}}
	ranked, err := NewSelector(sim, nil).Rank(context.Background(), pool, "q")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	want := map[string]float64{
		"older":  0.6*0.5 + 0.2*0 + 0.2*0.5,
		"newer":  0.6*0.5 + 0.2*0.5 + 0.2*1,
		"newest": 0.6*0.5 + 0.2*1 + 0.2*0,
	}
	for _, s := range ranked {
		if math.Abs(s.Score-want[s.Asset.ID]) > 1e-9 {
			t.Fatalf("score for %s = %f, want %f", s.Asset.ID, s.Score, want[s.Asset.ID])
		}
	}
	if ranked[0].Asset.ID != "newer" || ranked[1].Asset.ID != "newest" || ranked[2].Asset.ID != "older" {
		t.Fatalf("unexpected order %s, %s, %s", ranked[0].Asset.ID, ranked[1].Asset.ID, ranked[2].Asset.ID)
	}
}

func TestRankTieGoesToNewest(t *testing.T) {
	// Equal timestamps and usage make every sub-score identical; the
	// duplicate subject match then resolves to the newest asset.
	pool := []Asset{
		{ID: "first", Kind: KindProduct, PrimarySubject: "AirRun", CreatedAt: base},
		{ID: "second", Kind: KindProduct, PrimarySubject: "AirRun", CreatedAt: base.Add(time.Minute)},
	}
	m, err := NewSelector(nil, nil).Select(context.Background(), pool,
		videospec.Entities{Product: "AirRun"}, adBeats(), Options{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := m["hero_shot"].AssetIDs[0]; got != "second" {
		t.Fatalf("expected newest duplicate, got %s", got)
	}

	same := []Asset{
		{ID: "b", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	}
	ranked, err := NewSelector(nil, nil).Rank(context.Background(), same, "q")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if ranked[0].Asset.ID != "a" {
		t.Fatalf("expected id order on full ties, got %s", ranked[0].Asset.ID)
	}
}

func TestLexicalSimilarity(t *testing.T) {
	scores, _ := LexicalSimilarity{}.Score(context.Background(), "red running shoe", []string{"Running Shoe", "blue hat", ""})
	if math.Abs(scores[0]-2.0/3.0) > 1e-9 {
		t.Fatalf("unexpected score %f", scores[0])
	}
	if scores[1] != 0 || scores[2] != 0 {
		t.Fatalf("expected zero scores, got %v", scores)
	}
}
