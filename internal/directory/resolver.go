package directory

// PrimaryDimension selects which field drives the dependent lookup. The
// widget variants differ only in whether the visitor picks a service first
// or a practitioner first; one resolver serves both orderings.
type PrimaryDimension int

const (
	// PrimaryService: visitor picks a service, then an eligible practitioner.
	PrimaryService PrimaryDimension = iota
	// PrimaryPractitioner: visitor picks a practitioner, then one of their services.
	PrimaryPractitioner
)

// Resolver answers dependent-selection questions over a catalog for a
// fixed primary dimension.
type Resolver struct {
	catalog *Catalog
	primary PrimaryDimension
}

// NewResolver creates a resolver over the catalog.
func NewResolver(catalog *Catalog, primary PrimaryDimension) *Resolver {
	return &Resolver{catalog: catalog, primary: primary}
}

// Catalog exposes the underlying catalog.
func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Primary returns the dimension driving the first step.
func (r *Resolver) Primary() PrimaryDimension { return r.primary }

// PrimaryOptions lists the choices for the first step.
func (r *Resolver) PrimaryOptions() []string {
	if r.primary == PrimaryPractitioner {
		out := make([]string, 0, len(r.catalog.Practitioners))
		for _, p := range r.catalog.Practitioners {
			out = append(out, p.Name)
		}
		return out
	}
	out := make([]string, 0, len(r.catalog.Services))
	for _, s := range r.catalog.Services {
		out = append(out, s.Name)
	}
	return out
}

// SecondaryOptions lists the choices for the second step given the first.
// Changing the primary choice invalidates any prior secondary choice.
func (r *Resolver) SecondaryOptions(primary string) []string {
	if r.primary == PrimaryPractitioner {
		return r.catalog.ServicesFor(primary)
	}
	return r.catalog.EligiblePractitioners(primary)
}

// Pair maps a (primary, secondary) choice back to (service, practitioner).
func (r *Resolver) Pair(primary, secondary string) (service, practitioner string) {
	if r.primary == PrimaryPractitioner {
		return secondary, primary
	}
	return primary, secondary
}
