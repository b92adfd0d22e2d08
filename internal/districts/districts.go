// Package districts is the registry of known school districts and the
// portal driver each of them runs.
package districts

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"gradeportal-backend/internal/drivers/gradespeed"
	"gradeportal-backend/internal/drivers/txconnect"
	"gradeportal-backend/internal/portal"

	"github.com/antzucaro/matchr"
)

// Config describes a district in configuration files.
type Config struct {
	Name       string   `json:"name"`
	Driver     string   `json:"driver"`
	BaseUrl    string   `json:"base_url"`
	Hosts      []string `json:"hosts"`
	ExamWeight float64  `json:"exam_weight"`
}

// Builtin is the set of districts known without configuration.
var Builtin = []Config{
	{
		Name:       "Austin ISD",
		Driver:     gradespeed.Driver,
		BaseUrl:    "https://gradespeed.austinisd.org/pc/",
		Hosts:      []string{"gradespeed.austinisd.org"},
		ExamWeight: 15,
	},
	{
		Name:       "Round Rock ISD",
		Driver:     txconnect.Driver,
		BaseUrl:    "https://txconnect.roundrockisd.org/TxConnect/",
		Hosts:      []string{"txconnect.roundrockisd.org"},
		ExamWeight: 15,
	},
}

// MinSimilarity is the lowest Jaro-Winkler similarity Find accepts for a
// fuzzy name match.
const MinSimilarity = 0.85

// Build makes the district value for a config entry.
func Build(c Config) (portal.District, error) {
	hosts := c.Hosts
	if len(hosts) == 0 {
		parsed, err := url.Parse(c.BaseUrl)
		if err != nil {
			return portal.District{}, fmt.Errorf("district '%s': parse base url: %w", c.Name, err)
		}
		hosts = []string{parsed.Hostname()}
	}

	var d portal.District
	switch c.Driver {
	case gradespeed.Driver:
		d = gradespeed.NewDistrict(gradespeed.Config{
			Name:       c.Name,
			BaseUrl:    c.BaseUrl,
			Hosts:      hosts,
			ExamWeight: c.ExamWeight,
		})
	case txconnect.Driver:
		d = txconnect.NewDistrict(txconnect.Config{
			Name:       c.Name,
			BaseUrl:    c.BaseUrl,
			Hosts:      hosts,
			ExamWeight: c.ExamWeight,
		})
	default:
		return portal.District{}, fmt.Errorf("district '%s': unknown driver '%s'", c.Name, c.Driver)
	}
	if err := d.Validate(); err != nil {
		return portal.District{}, err
	}
	return d, nil
}

type Registry struct {
	districts []portal.District
}

// NewRegistry builds every config entry. Later entries replace earlier
// entries of the same name so configuration can override Builtin.
func NewRegistry(configs ...Config) (Registry, error) {
	var r Registry
	for _, c := range configs {
		d, err := Build(c)
		if err != nil {
			return Registry{}, err
		}
		idx := slices.IndexFunc(r.districts, func(existing portal.District) bool {
			return existing.Name == d.Name
		})
		if idx >= 0 {
			r.districts[idx] = d
			continue
		}
		r.districts = append(r.districts, d)
	}
	return r, nil
}

// Default is the registry of the Builtin districts.
func Default() Registry {
	r, err := NewRegistry(Builtin...)
	if err != nil {
		panic(err)
	}
	return r
}

// All returns the districts sorted by name.
func (r Registry) All() []portal.District {
	out := slices.Clone(r.districts)
	slices.SortFunc(out, func(a, b portal.District) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Get returns the district with exactly the given name.
func (r Registry) Get(name string) (portal.District, bool) {
	for _, d := range r.districts {
		if d.Name == name {
			return d, true
		}
	}
	return portal.District{}, false
}

// Find resolves a user supplied district name or portal url. It tries an
// exact name, a case-insensitive name, the host of a url and finally the
// most similar name.
func (r Registry) Find(query string) (portal.District, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return portal.District{}, false
	}
	if d, ok := r.Get(query); ok {
		return d, true
	}
	for _, d := range r.districts {
		if strings.EqualFold(d.Name, query) {
			return d, true
		}
	}

	host := query
	if parsed, err := url.Parse(query); err == nil && parsed.Host != "" {
		host = parsed.Hostname()
	}
	for _, d := range r.districts {
		for _, h := range d.Hosts {
			if strings.EqualFold(h, host) {
				return d, true
			}
		}
	}

	var best portal.District
	var bestSimilarity float64
	for _, d := range r.districts {
		similarity := matchr.JaroWinkler(strings.ToLower(query), strings.ToLower(d.Name), false)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			best = d
		}
	}
	if bestSimilarity < MinSimilarity {
		return portal.District{}, false
	}
	return best, true
}
