// Package directory holds the practitioner/service catalog and resolves
// the dependent selection (which practitioners offer which services, and
// the provider credentials/event type for a chosen pair).
package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/carebook/booking-engine/internal/calcom"
)

// Practitioner offers a set of services, each mapped to a provider-side
// event type, and books against their own provider account.
type Practitioner struct {
	Name        string                      `json:"name"`
	Credentials calcom.Credentials          `json:"credentials"`
	EventTypes  map[string]calcom.EventType `json:"event_types"` // keyed by canonical service name
}

// Offers reports whether the practitioner offers the service.
func (p Practitioner) Offers(service string) bool {
	_, ok := p.EventTypes[service]
	return ok
}

// Service is identified by its canonical name; DisplayNames carries the
// localized labels the widget renders (keyed by language, "en"/"fr").
type Service struct {
	Name         string            `json:"name"`
	DisplayNames map[string]string `json:"display_names,omitempty"`
}

// DisplayName returns the localized label, falling back to the canonical name.
func (s Service) DisplayName(lang string) string {
	if label, ok := s.DisplayNames[strings.ToLower(lang)]; ok && label != "" {
		return label
	}
	return s.Name
}

// Catalog is the full practitioner/service directory for one widget.
type Catalog struct {
	Practitioners []Practitioner `json:"practitioners"`
	Services      []Service      `json:"services"`
}

// LoadFile reads a catalog from a JSON file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read catalog: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("directory: parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross-references between services and practitioners.
func (c *Catalog) Validate() error {
	known := make(map[string]struct{}, len(c.Services))
	for _, s := range c.Services {
		if s.Name == "" {
			return fmt.Errorf("directory: service with empty name")
		}
		known[s.Name] = struct{}{}
	}
	for _, p := range c.Practitioners {
		if p.Name == "" {
			return fmt.Errorf("directory: practitioner with empty name")
		}
		for svc := range p.EventTypes {
			if _, ok := known[svc]; !ok {
				return fmt.Errorf("directory: practitioner %q offers unknown service %q", p.Name, svc)
			}
		}
	}
	return nil
}

// ServiceByName looks up a service by canonical name.
func (c *Catalog) ServiceByName(name string) (Service, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// PractitionerByName looks up a practitioner by name.
func (c *Catalog) PractitionerByName(name string) (Practitioner, bool) {
	for _, p := range c.Practitioners {
		if p.Name == name {
			return p, true
		}
	}
	return Practitioner{}, false
}

// EligiblePractitioners returns the names of practitioners whose service
// set contains the given service, sorted for stable rendering.
func (c *Catalog) EligiblePractitioners(service string) []string {
	var out []string
	for _, p := range c.Practitioners {
		if p.Offers(service) {
			out = append(out, p.Name)
		}
	}
	sort.Strings(out)
	return out
}

// ServicesFor returns the canonical names of services a practitioner
// offers, sorted for stable rendering.
func (c *Catalog) ServicesFor(practitioner string) []string {
	p, ok := c.PractitionerByName(practitioner)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(p.EventTypes))
	for svc := range p.EventTypes {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the provider credentials and event type for a complete
// (service, practitioner) pair.
func (c *Catalog) Resolve(service, practitioner string) (calcom.Credentials, calcom.EventType, error) {
	p, ok := c.PractitionerByName(practitioner)
	if !ok {
		return calcom.Credentials{}, calcom.EventType{}, fmt.Errorf("directory: unknown practitioner %q", practitioner)
	}
	et, ok := p.EventTypes[service]
	if !ok {
		return calcom.Credentials{}, calcom.EventType{}, fmt.Errorf("directory: %q does not offer %q", practitioner, service)
	}
	return p.Credentials, et, nil
}
