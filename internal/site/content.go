// Package site holds the brochure content and renders it as a single page
// of templ components.
package site

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seismic-bv/seismic/internal/errors"
)

//go:embed content.yaml
var defaultContent []byte

// Content is everything the page shows besides the contact form state.
type Content struct {
	Brand          string                 `yaml:"brand"`
	Nav            []NavLink              `yaml:"nav"`
	Hero           HeroCopy               `yaml:"hero"`
	Services       Section[Service]       `yaml:"services"`
	Collaborations Section[Collaboration] `yaml:"collaborations"`
	Publications   Section[Publication]   `yaml:"publications"`
	Profiles       Section[Profile]       `yaml:"profiles"`
	Contact        ContactCopy            `yaml:"contact"`
	Footer         FooterCopy             `yaml:"footer"`
}

// Section is a headed list of items.
type Section[T any] struct {
	Heading string `yaml:"heading"`
	Items   []T    `yaml:"items"`
}

type NavLink struct {
	Label  string `yaml:"label"`
	Anchor string `yaml:"anchor"`
}

type HeroCopy struct {
	Title      string   `yaml:"title"`
	Paragraphs []string `yaml:"paragraphs"`
	CTA        string   `yaml:"cta"`
}

type Service struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

type Collaboration struct {
	Name string `yaml:"name"`
	Logo string `yaml:"logo"`
}

type Publication struct {
	Authors string `yaml:"authors"`
	Year    int    `yaml:"year"`
	Title   string `yaml:"title"`
	Venue   string `yaml:"venue"`
	Volume  string `yaml:"volume"`
	Pages   string `yaml:"pages"`
	DOI     string `yaml:"doi"`
}

// DOIURL returns the resolver link for the publication, or "".
func (p Publication) DOIURL() string {
	if p.DOI == "" {
		return ""
	}
	return "https://doi.org/" + p.DOI
}

type Profile struct {
	Name     string `yaml:"name"`
	Title    string `yaml:"title"`
	Bio      string `yaml:"bio"`
	Headshot string `yaml:"headshot"`
}

type ContactCopy struct {
	Heading string `yaml:"heading"`
	Submit  string `yaml:"submit"`
}

type FooterCopy struct {
	Owner   string `yaml:"owner"`
	Tagline string `yaml:"tagline"`
}

// Anchors the page always provides.
var requiredAnchors = []string{"projects", "collaborations", "publications", "profiles", "contact"}

var (
	anchorPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	doiPattern    = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
)

// DefaultContent parses the embedded content file.
func DefaultContent() (*Content, error) {
	return ParseContent(defaultContent)
}

// LoadContent reads and parses a content file.
func LoadContent(path string) (*Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "reading content file").
			WithContext("path", path)
	}
	c, err := ParseContent(data)
	if err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "parsing content file").
			WithContext("path", path)
	}
	return c, nil
}

// ParseContent decodes YAML content, rejecting unknown keys, and validates it.
func ParseContent(data []byte) (*Content, error) {
	var c Content
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding content: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the content can render a complete page.
func (c *Content) Validate() error {
	vec := &errors.ValidationErrorCollection{}

	if strings.TrimSpace(c.Brand) == "" {
		vec.AddField("brand", c.Brand, "must not be empty")
	}
	if strings.TrimSpace(c.Hero.Title) == "" {
		vec.AddField("hero.title", c.Hero.Title, "must not be empty")
	}

	seen := make(map[string]bool)
	for i, link := range c.Nav {
		if !anchorPattern.MatchString(link.Anchor) {
			vec.AddField(fmt.Sprintf("nav[%d].anchor", i), link.Anchor, "must be a lowercase identifier")
		}
		seen[link.Anchor] = true
	}
	for _, anchor := range requiredAnchors {
		if !seen[anchor] {
			vec.AddField("nav", anchor, "missing link to #"+anchor)
		}
	}

	for i, p := range c.Publications.Items {
		if p.DOI != "" && !doiPattern.MatchString(p.DOI) {
			vec.AddField(fmt.Sprintf("publications.items[%d].doi", i), p.DOI, "is not a DOI")
		}
	}
	for i, col := range c.Collaborations.Items {
		if !isRelativeAsset(col.Logo) {
			vec.AddField(fmt.Sprintf("collaborations.items[%d].logo", i), col.Logo, "must be a relative asset path")
		}
	}
	for i, p := range c.Profiles.Items {
		if !isRelativeAsset(p.Headshot) {
			vec.AddField(fmt.Sprintf("profiles.items[%d].headshot", i), p.Headshot, "must be a relative asset path")
		}
	}

	if !vec.HasErrors() {
		return nil
	}
	return vec.ToError().WithComponent("site")
}

// isRelativeAsset accepts paths served from the static directory; empty
// means no image.
func isRelativeAsset(p string) bool {
	if p == "" {
		return true
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") || strings.Contains(p, "://") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." || part == "" {
			return false
		}
	}
	return true
}
