// Package negotiate works out which flag types a client must be told about.
package negotiate

// Set is a set of flag type abbreviations.
type Set map[string]struct{}

// NewSet builds a set from abbreviations.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, i := range items {
		s[i] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Config describes which flag types can show up on this server.
type Config struct {
	// Required is the number of flags of each type placed at world load.
	Required map[string]int
	// ExtraFlags is the number of random flags in circulation.
	ExtraFlags int
	// Disallowed types are never chosen as extra flags.
	Disallowed Set
}

// IsRequired reports whether the world always carries at least one abbrev.
func (c Config) IsRequired(abbrev string) bool {
	return c.Required[abbrev] > 0
}

// MayAppear reports whether abbrev can be picked as a random extra flag.
func (c Config) MayAppear(abbrev string) bool {
	return c.ExtraFlags > 0 && !c.Disallowed.Has(abbrev)
}

// Negotiator compares client capabilities with the server's flag set.
type Negotiator struct {
	cfg Config
	all []string
}

// New creates a Negotiator over every known abbreviation. The order of all
// is the order Ordered reports in.
func New(cfg Config, all []string) *Negotiator {
	n := &Negotiator{cfg: cfg, all: make([]string, len(all))}
	copy(n.all, all)
	return n
}

// Negotiate returns the types the server can field that the client did not
// declare.
func (n *Negotiator) Negotiate(client Set) Set {
	missing := make(Set)
	for _, f := range n.all {
		if client.Has(f) {
			continue
		}
		if n.cfg.IsRequired(f) || n.cfg.MayAppear(f) {
			missing[f] = struct{}{}
		}
	}
	return missing
}

// Ordered lists the members of s in the negotiator's enumeration order.
func (n *Negotiator) Ordered(s Set) []string {
	out := make([]string, 0, len(s))
	for _, f := range n.all {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
