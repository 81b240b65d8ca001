package tools

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Info is the read-only metadata of one tool.
type Info struct {
	Code          string `yaml:"code" json:"code"`
	Name          string `yaml:"name" json:"name"`
	URL           string `yaml:"url" json:"url"`
	Description   string `yaml:"description" json:"description"`
	Logo          string `yaml:"logo,omitempty" json:"logo,omitempty"`
	InputSelector string `yaml:"inputSelector,omitempty" json:"-"`
	Primary       bool   `yaml:"primary" json:"primary"`
}

// Catalog is an immutable code -> Info table. It is built once and handed to
// every component that needs tool metadata.
type Catalog struct {
	order   []string
	entries map[string]Info
}

type catalogFile struct {
	Tools []Info `yaml:"tools"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("tools: embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalogFile reads a catalog from a YAML file.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Tools) == 0 {
		return nil, errors.New("catalog has no tools")
	}

	c := &Catalog{entries: make(map[string]Info, len(f.Tools))}
	for i, info := range f.Tools {
		info.Code = NormalizeCode(info.Code)
		info.Name = strings.TrimSpace(info.Name)
		info.Description = strings.TrimSpace(info.Description)
		if info.Code == "" {
			return nil, fmt.Errorf("catalog entry %d: missing code", i)
		}
		if info.Name == "" {
			return nil, fmt.Errorf("catalog entry %s: missing name", info.Code)
		}
		if _, dup := c.entries[info.Code]; dup {
			return nil, fmt.Errorf("catalog entry %s: duplicate code", info.Code)
		}
		c.entries[info.Code] = info
		c.order = append(c.order, info.Code)
	}
	return c, nil
}

// Get returns the metadata for code.
func (c *Catalog) Get(code string) (Info, bool) {
	info, ok := c.entries[NormalizeCode(code)]
	return info, ok
}

// Name returns the display name for code, falling back to the code itself.
func (c *Catalog) Name(code string) string {
	if info, ok := c.Get(code); ok {
		return info.Name
	}
	return code
}

// All returns every entry in file order.
func (c *Catalog) All() []Info {
	out := make([]Info, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.entries[code])
	}
	return out
}

// NormalizeCode trims and upper-cases a tool code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
