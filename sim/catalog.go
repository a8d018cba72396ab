package sim

import (
	"fmt"
	"sort"
)

// Factory returns a blank instance of a concrete object type, ready to be filled
// from a snapshot. It must not call any Init method.
type Factory func() Object

// Catalog maps subtypes to factories so snapshots can be rehydrated into concrete
// Go types.
type Catalog struct {
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory for subtype. Registering a subtype twice fails.
func (c *Catalog) Register(subtype string, f Factory) error {
	if _, exists := c.factories[subtype]; exists {
		return fmt.Errorf("catalog: subtype %q registered twice", subtype)
	}
	c.factories[subtype] = f
	return nil
}

// MustRegister is Register for package init paths; it panics on duplicates.
func (c *Catalog) MustRegister(subtype string, f Factory) {
	if err := c.Register(subtype, f); err != nil {
		panic(err)
	}
}

// New returns a blank instance of subtype.
func (c *Catalog) New(subtype string) (Object, error) {
	f, ok := c.factories[subtype]
	if !ok {
		return nil, fmt.Errorf("catalog: %q: %w", subtype, ErrUnknownSubtype)
	}
	return f(), nil
}

// Subtypes lists registered subtypes, sorted.
func (c *Catalog) Subtypes() []string {
	out := make([]string, 0, len(c.factories))
	for s := range c.factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
