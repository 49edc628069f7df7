package flag

import "sort"

// Quality tells whether a flag helps or hinders its carrier.
type Quality int

const (
	Good Quality = iota
	Bad
)

func (q Quality) String() string {
	if q == Bad {
		return "bad"
	}
	return "good"
}

// Type is an immutable flag type definition.
type Type struct {
	Abbrev  string
	Name    string
	Quality Quality
}

// Well-known abbreviations referenced by game rules.
const (
	Velocity = "V"
	Thief    = "T"
	Agility  = "A"
	Burrow   = "BU"
	Wings    = "WG"
)

// Catalog is the set of flag types known to the server.
type Catalog struct {
	byAbbrev map[string]*Type
	ordered  []*Type
}

// NewCatalog builds a catalog from types. Later duplicates replace earlier ones.
func NewCatalog(types ...Type) *Catalog {
	c := &Catalog{byAbbrev: make(map[string]*Type, len(types))}
	for i := range types {
		t := types[i]
		c.byAbbrev[t.Abbrev] = &t
	}
	for _, t := range c.byAbbrev {
		c.ordered = append(c.ordered, t)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].Abbrev < c.ordered[j].Abbrev })
	return c
}

// DefaultCatalog returns the standard flag set.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Type{Abbrev: "A", Name: "Agility", Quality: Good},
		Type{Abbrev: "BU", Name: "Burrow", Quality: Good},
		Type{Abbrev: "CL", Name: "Cloaking", Quality: Good},
		Type{Abbrev: "G", Name: "Genocide", Quality: Good},
		Type{Abbrev: "GM", Name: "Guided Missile", Quality: Good},
		Type{Abbrev: "IB", Name: "Invisible Bullet", Quality: Good},
		Type{Abbrev: "L", Name: "Laser", Quality: Good},
		Type{Abbrev: "MG", Name: "Machine Gun", Quality: Good},
		Type{Abbrev: "N", Name: "Narrow", Quality: Good},
		Type{Abbrev: "OO", Name: "Oscillation Overthruster", Quality: Good},
		Type{Abbrev: "QT", Name: "Quick Turn", Quality: Good},
		Type{Abbrev: "R", Name: "Ricochet", Quality: Good},
		Type{Abbrev: "SB", Name: "Super Bullet", Quality: Good},
		Type{Abbrev: "SH", Name: "Shield", Quality: Good},
		Type{Abbrev: "SR", Name: "Steamroller", Quality: Good},
		Type{Abbrev: "ST", Name: "Stealth", Quality: Good},
		Type{Abbrev: "SW", Name: "Shock Wave", Quality: Good},
		Type{Abbrev: "T", Name: "Thief", Quality: Good},
		Type{Abbrev: "TH", Name: "Tiny", Quality: Good},
		Type{Abbrev: "US", Name: "Useless", Quality: Good},
		Type{Abbrev: "V", Name: "High Speed", Quality: Good},
		Type{Abbrev: "WG", Name: "Wings", Quality: Good},
		Type{Abbrev: "B", Name: "Blindness", Quality: Bad},
		Type{Abbrev: "BY", Name: "Bouncy", Quality: Bad},
		Type{Abbrev: "CB", Name: "Colorblindness", Quality: Bad},
		Type{Abbrev: "FO", Name: "Forward Only", Quality: Bad},
		Type{Abbrev: "JM", Name: "Jamming", Quality: Bad},
		Type{Abbrev: "LT", Name: "Left Turn Only", Quality: Bad},
		Type{Abbrev: "M", Name: "Momentum", Quality: Bad},
		Type{Abbrev: "NJ", Name: "No Jumping", Quality: Bad},
		Type{Abbrev: "O", Name: "Obesity", Quality: Bad},
		Type{Abbrev: "RC", Name: "Reverse Controls", Quality: Bad},
		Type{Abbrev: "RO", Name: "Reverse Only", Quality: Bad},
		Type{Abbrev: "RT", Name: "Right Turn Only", Quality: Bad},
		Type{Abbrev: "TR", Name: "Trigger Happy", Quality: Bad},
		Type{Abbrev: "WA", Name: "Wide Angle", Quality: Bad},
	)
}

// Lookup finds a type by abbreviation.
func (c *Catalog) Lookup(abbrev string) (*Type, bool) {
	t, ok := c.byAbbrev[abbrev]
	return t, ok
}

// All returns every type ordered by abbreviation.
func (c *Catalog) All() []*Type {
	out := make([]*Type, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Good returns the good-quality types ordered by abbreviation.
func (c *Catalog) Good() []*Type {
	var out []*Type
	for _, t := range c.ordered {
		if t.Quality == Good {
			out = append(out, t)
		}
	}
	return out
}
