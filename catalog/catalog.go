package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// file is the on-disk shape of a catalog table.
type file struct {
	AllowedDurations []int       `yaml:"allowed_durations"`
	ImageCost        float64     `yaml:"image_cost"`
	MusicCost        float64     `yaml:"music_cost"`
	Beats            []Beat      `yaml:"beats"`
	Archetypes       []Archetype `yaml:"archetypes"`
	Backends         []Backend   `yaml:"backends"`
}

// Catalog holds the beat, archetype and backend tables. It is built once at
// process start and never mutated; lookups hand out copies.
type Catalog struct {
	allowed    map[int]bool
	durations  []int
	imageCost  float64
	musicCost  float64
	beats      map[string]Beat
	archetypes map[string]Archetype
	backends   map[string]Backend
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog yaml file. An empty path means the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and cross-checks a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(f.AllowedDurations, f.Beats, f.Archetypes, f.Backends, f.ImageCost, f.MusicCost)
}

// New builds a catalog from in-memory tables.
func New(allowed []int, beats []Beat, archetypes []Archetype, backends []Backend, imageCost, musicCost float64) (*Catalog, error) {
	if len(allowed) == 0 {
		return nil, fmt.Errorf("catalog: no allowed durations")
	}
	c := &Catalog{
		allowed:    make(map[int]bool, len(allowed)),
		imageCost:  imageCost,
		musicCost:  musicCost,
		beats:      make(map[string]Beat, len(beats)),
		archetypes: make(map[string]Archetype, len(archetypes)),
		backends:   make(map[string]Backend, len(backends)),
	}
	for _, d := range allowed {
		if d <= 0 {
			return nil, fmt.Errorf("catalog: allowed duration %d must be positive", d)
		}
		if !c.allowed[d] {
			c.allowed[d] = true
			c.durations = append(c.durations, d)
		}
	}
	sort.Ints(c.durations)

	for _, b := range beats {
		if b.ID == "" {
			return nil, fmt.Errorf("catalog: beat with empty id")
		}
		if _, dup := c.beats[b.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate beat %q", b.ID)
		}
		if !c.allowed[b.Duration] {
			return nil, fmt.Errorf("catalog: beat %q has duration %d outside %v", b.ID, b.Duration, c.durations)
		}
		c.beats[b.ID] = b
	}
	for _, a := range archetypes {
		if _, dup := c.archetypes[a.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate archetype %q", a.ID)
		}
		for _, id := range a.SuggestedBeatSequence {
			if _, ok := c.beats[id]; !ok {
				return nil, fmt.Errorf("catalog: archetype %q references unknown beat %q", a.ID, id)
			}
		}
		c.archetypes[a.ID] = a
	}
	// Backend durations are checked by the chunk planner, not here: a bad
	// row should fail the runs that use it rather than the whole process.
	for _, b := range backends {
		if _, dup := c.backends[b.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate backend %q", b.ID)
		}
		c.backends[b.ID] = b
	}
	return c, nil
}

// AllowedDurations returns the permitted beat durations in ascending order.
func (c *Catalog) AllowedDurations() []int {
	return append([]int(nil), c.durations...)
}

// IsAllowedDuration reports whether d is one of the discrete beat durations.
func (c *Catalog) IsAllowedDuration(d int) bool {
	return c.allowed[d]
}

func (c *Catalog) Beat(id string) (Beat, bool) {
	b, ok := c.beats[id]
	return b, ok
}

func (c *Catalog) Archetype(id string) (Archetype, bool) {
	a, ok := c.archetypes[id]
	if !ok {
		return Archetype{}, false
	}
	a.SuggestedBeatSequence = append([]string(nil), a.SuggestedBeatSequence...)
	a.StyleHints = append([]string(nil), a.StyleHints...)
	return a, true
}

func (c *Catalog) Backend(id string) (Backend, bool) {
	b, ok := c.backends[id]
	return b, ok
}

// ImageCost is the unit cost of one storyboard image render.
func (c *Catalog) ImageCost() float64 { return c.imageCost }

// MusicCost is the unit cost of one music track render.
func (c *Catalog) MusicCost() float64 { return c.musicCost }

// Beats lists every beat ordered by id.
func (c *Catalog) Beats() []Beat {
	out := make([]Beat, 0, len(c.beats))
	for _, b := range c.beats {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Archetypes lists every archetype ordered by id.
func (c *Catalog) Archetypes() []Archetype {
	out := make([]Archetype, 0, len(c.archetypes))
	for id := range c.archetypes {
		a, _ := c.Archetype(id)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Backends lists every generation backend ordered by id.
func (c *Catalog) Backends() []Backend {
	out := make([]Backend, 0, len(c.backends))
	for _, b := range c.backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
