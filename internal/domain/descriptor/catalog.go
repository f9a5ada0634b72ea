package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog maps descriptor names to validated descriptors so bounties can reference a
// shared descriptor instead of embedding one.
type Catalog struct {
	entries map[string]Descriptor
}

type catalogFile struct {
	Descriptors map[string]Descriptor `yaml:"descriptors"`
}

// LoadCatalog reads a YAML catalog from path. An empty path yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{entries: map[string]Descriptor{}}, nil
	}
	b, err := os.ReadFile(path) // #nosec G304 - operator supplied config path
	if err != nil {
		return nil, fmt.Errorf("read descriptor catalog: %w", err)
	}
	return ParseCatalog(b)
}

// ParseCatalog decodes and validates YAML catalog content.
func ParseCatalog(b []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode descriptor catalog: %w", err)
	}
	c := &Catalog{entries: make(map[string]Descriptor, len(f.Descriptors))}
	for name, d := range f.Descriptors {
		for i := range d.RequiredArtifacts {
			if d.RequiredArtifacts[i].MinCount == 0 {
				d.RequiredArtifacts[i].MinCount = 1
			}
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("descriptor %q: %w", name, err)
		}
		c.entries[name] = d
	}
	return c, nil
}

// Lookup returns the named descriptor.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	if c == nil {
		return Descriptor{}, false
	}
	d, ok := c.entries[name]
	return d, ok
}

// Names returns the catalog entry names in sorted order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ErrUnknownRef is returned by Resolve when a referenced descriptor is not in the catalog.
var ErrUnknownRef = errors.New("unknown descriptor reference")

type reference struct {
	Ref string `json:"ref"`
}

// Resolve decodes raw as either an inline descriptor or a {"ref": "<name>"} pointer into
// the catalog.
func Resolve(raw json.RawMessage, c *Catalog) (Descriptor, error) {
	var ref reference
	if err := json.Unmarshal(raw, &ref); err == nil && ref.Ref != "" {
		d, ok := c.Lookup(ref.Ref)
		if !ok {
			return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownRef, ref.Ref)
		}
		return d, nil
	}
	return Parse(raw)
}
