// Package catalog loads the counterpart profiles offered for browsing.
//
// Profiles are read from a YAML or JSON file, or from the embedded default
// catalog when no path is configured. They are validated and normalized once
// at load time and never mutated afterwards.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/tbourn/go-auras-backend/internal/domain"
)

//go:embed profiles.yaml
var defaultCatalog []byte

// ErrInvalidProfile is wrapped by every validation failure.
var ErrInvalidProfile = errors.New("catalog: invalid profile")

// Format selects the decoder used by Parse.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

type document struct {
	Profiles []domain.Profile `json:"profiles" yaml:"profiles"`
}

// Catalog is an immutable, ordered set of profiles.
type Catalog struct {
	profiles []domain.Profile
	byID     map[string]int
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog, FormatYAML)
}

// Load reads the catalog at path. An empty path returns Default. Files
// ending in .json are decoded as JSON, everything else as YAML.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	return Parse(data, format)
}

// Parse decodes data as a {"profiles": [...]} document or a bare list.
func Parse(data []byte, format Format) (*Catalog, error) {
	var (
		doc  document
		list []domain.Profile
		err  error
	)
	switch format {
	case FormatJSON:
		if err = json.Unmarshal(data, &doc); err != nil {
			err = json.Unmarshal(data, &list)
		}
	default:
		if err = yaml.Unmarshal(data, &doc); err != nil {
			err = yaml.Unmarshal(data, &list)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", format, err)
	}
	if len(doc.Profiles) > 0 {
		list = doc.Profiles
	}
	return New(list)
}

// New validates and normalizes profiles into a Catalog.
func New(profiles []domain.Profile) (*Catalog, error) {
	c := &Catalog{
		profiles: make([]domain.Profile, 0, len(profiles)),
		byID:     make(map[string]int, len(profiles)),
	}
	title := cases.Title(language.English)
	for i, p := range profiles {
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("profile #%d: %w", i, err)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidProfile, p.ID)
		}
		p.Interests = normalizeInterests(title, p.Interests)
		if p.Photos == nil {
			p.Photos = []string{}
		}
		c.byID[p.ID] = len(c.profiles)
		c.profiles = append(c.profiles, p)
	}
	return c, nil
}

func validate(p domain.Profile) error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidProfile)
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: %q has no name", ErrInvalidProfile, p.ID)
	case p.Age < 18:
		return fmt.Errorf("%w: %q is under 18", ErrInvalidProfile, p.ID)
	case !p.Gender.Valid():
		return fmt.Errorf("%w: %q has unknown gender %q", ErrInvalidProfile, p.ID, p.Gender)
	}
	traits := map[string]int{
		"openness":          p.Personality.Openness,
		"conscientiousness": p.Personality.Conscientiousness,
		"extraversion":      p.Personality.Extraversion,
		"agreeableness":     p.Personality.Agreeableness,
		"neuroticism":       p.Personality.Neuroticism,
	}
	for name, v := range traits {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: %q %s=%d out of range", ErrInvalidProfile, p.ID, name, v)
		}
	}
	return nil
}

func normalizeInterests(title cases.Caser, in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			continue
		}
		s = title.String(s)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// All returns the profiles in catalog order. The slice is a copy.
func (c *Catalog) All() []domain.Profile {
	out := make([]domain.Profile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// Get looks a profile up by id.
func (c *Catalog) Get(id string) (domain.Profile, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Profile{}, false
	}
	return c.profiles[i], true
}

// Len reports the number of profiles.
func (c *Catalog) Len() int { return len(c.profiles) }
