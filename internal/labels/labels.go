// Package labels implements copy identity: the human-facing label number
// that uniquely identifies a physical copy within a site, and the pure
// title-level aggregation used for catalog display.
package labels

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"liblend/internal/config"
	"liblend/internal/models"
)

var sequencePattern = regexp.MustCompile(`^\d{1,4}$`)

// Parsed is the decomposition of a label number.
type Parsed struct {
	Category string
	SiteCode string
	Sequence string
}

// Allocate builds a label number from a category, a site name and a raw
// sequence, zero-padding the sequence to 4 digits. The resulting format is
// {category}_{siteCode}{NNNN}. Uniqueness against existing copies is
// enforced by the store when the copy is created.
func Allocate(sites config.Sites, category, site, rawSequence string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", fmt.Errorf("category is required")
	}
	if strings.Contains(category, "_") {
		return "", fmt.Errorf("category %q must not contain underscores", category)
	}
	code, err := sites.CodeFor(site)
	if err != nil {
		return "", err
	}
	seq := strings.TrimSpace(rawSequence)
	if !sequencePattern.MatchString(seq) {
		return "", fmt.Errorf("sequence %q must be 1-4 digits", rawSequence)
	}
	n, err := strconv.Atoi(seq)
	if err != nil {
		return "", fmt.Errorf("sequence %q must be numeric", rawSequence)
	}
	return fmt.Sprintf("%s_%s%04d", category, code, n), nil
}

// Parse splits a label number into its parts. It returns an error for
// anything that does not match the {category}_{code}{NNNN} shape.
func Parse(label string) (Parsed, error) {
	idx := strings.LastIndex(label, "_")
	if idx <= 0 {
		return Parsed{}, fmt.Errorf("label %q is missing the category separator", label)
	}
	category, numberPart := label[:idx], label[idx+1:]
	if len(numberPart) != 5 {
		return Parsed{}, fmt.Errorf("label %q number part must be 5 digits", label)
	}
	seq := numberPart[1:]
	if !sequencePattern.MatchString(seq) || len(seq) != 4 {
		return Parsed{}, fmt.Errorf("label %q sequence must be 4 digits", label)
	}
	return Parsed{
		Category: category,
		SiteCode: numberPart[:1],
		Sequence: seq,
	}, nil
}

// Valid reports whether a label parses and its site code belongs to a
// configured site.
func Valid(sites config.Sites, label string) bool {
	parsed, err := Parse(label)
	if err != nil {
		return false
	}
	_, ok := sites.SiteForCode(parsed.SiteCode)
	return ok
}

// TitleGroup is the display aggregation of all copies sharing a title key.
// It is not authoritative state.
type TitleGroup struct {
	TitleKey       string        `json:"title_key"`
	Title          string        `json:"title"`
	Author         string        `json:"author"`
	CoverURL       string        `json:"cover_url"`
	Copies         []models.Copy `json:"copies"`
	TotalCount     int           `json:"total_count"`
	AvailableCount int           `json:"available_count"`
	Locations      []string      `json:"locations"`
}

// GroupByTitle aggregates copies by title key, skipping deleted copies.
// Groups are ordered by title, and locations within a group are unique and
// sorted.
func GroupByTitle(copies []models.Copy) []TitleGroup {
	byKey := make(map[string]*TitleGroup)
	for _, c := range copies {
		if c.Status == models.CopyStatusDeleted {
			continue
		}
		g, ok := byKey[c.TitleKey]
		if !ok {
			g = &TitleGroup{
				TitleKey: c.TitleKey,
				Title:    c.Title,
				Author:   c.Author,
				CoverURL: c.CoverURL,
			}
			byKey[c.TitleKey] = g
		}
		g.Copies = append(g.Copies, c)
		g.TotalCount++
		if c.Status == models.CopyStatusAvailable {
			g.AvailableCount++
		}
		if c.ShelfLocation != "" {
			g.Locations = append(g.Locations, c.ShelfLocation)
		}
	}

	groups := make([]TitleGroup, 0, len(byKey))
	for _, g := range byKey {
		g.Locations = uniqueSorted(g.Locations)
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Title < groups[j].Title })
	return groups
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
