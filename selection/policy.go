package selection

import (
	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/videospec"
)

// Inclusion says whether an asset kind belongs in a beat.
type Inclusion int

const (
	Never Inclusion = iota
	Optional
	// IfFits defers to the planner's OpeningLogoFits hint.
	IfFits
	Always
)

func (i Inclusion) String() string {
	switch i {
	case Never:
		return "never"
	case Optional:
		return "optional"
	case IfFits:
		return "if_fits"
	case Always:
		return "always"
	}
	return "unknown"
}

// Policy is one row of the beat-type inclusion table.
type Policy struct {
	Product Inclusion
	Logo    Inclusion
}

var (
	productBeatPolicy    = Policy{Product: Always, Logo: Optional}
	closingBeatPolicy    = Policy{Product: Optional, Logo: Always}
	openingBeatPolicy    = Policy{Product: Optional, Logo: IfFits}
	transitionBeatPolicy = Policy{Product: Never, Logo: Never}
	defaultBeatPolicy    = Policy{Product: Optional, Logo: Optional}
)

var rolePolicies = map[catalog.Role]Policy{
	catalog.RoleHero:       productBeatPolicy,
	catalog.RoleShowcase:   productBeatPolicy,
	catalog.RoleDetail:     productBeatPolicy,
	catalog.RoleLifestyle:  productBeatPolicy,
	catalog.RoleTransition: transitionBeatPolicy,
	catalog.RoleCTA:        closingBeatPolicy,
}

// PolicyFor looks the beat up by role first, then by narrative position.
func PolicyFor(b videospec.ResolvedBeat) Policy {
	if p, ok := rolePolicies[b.Role]; ok {
		return p
	}
	switch b.NarrativePosition {
	case catalog.PositionClosing:
		return closingBeatPolicy
	case catalog.PositionOpening:
		return openingBeatPolicy
	}
	return defaultBeatPolicy
}

func (p Policy) forKind(k Kind) Inclusion {
	switch k {
	case KindProduct:
		return p.Product
	case KindLogo:
		return p.Logo
	}
	return Never
}
