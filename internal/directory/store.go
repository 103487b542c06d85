package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/carebook/booking-engine/internal/calcom"
)

const catalogKey = "directory:catalog"

// Store persists the catalog in redis so it can be edited without a
// redeploy. A missing key yields the built-in default catalog.
type Store struct {
	redis *redis.Client
}

// NewStore creates a catalog store. A nil client is allowed; Get then
// always returns the default catalog.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

// Get retrieves the catalog, returning the default when none is stored.
func (s *Store) Get(ctx context.Context) (*Catalog, error) {
	if s == nil || s.redis == nil {
		return DefaultCatalog(), nil
	}

	data, err := s.redis.Get(ctx, catalogKey).Bytes()
	if err == redis.Nil {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get catalog: %w", err)
	}

	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("directory: unmarshal catalog: %w", err)
	}
	return &c, nil
}

// Set saves the catalog after validating it.
func (s *Store) Set(ctx context.Context, c *Catalog) error {
	if s == nil || s.redis == nil {
		return fmt.Errorf("directory: store not configured")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("directory: marshal catalog: %w", err)
	}
	if err := s.redis.Set(ctx, catalogKey, data, 0).Err(); err != nil {
		return fmt.Errorf("directory: set catalog: %w", err)
	}
	return nil
}

// DefaultCatalog is the single-practitioner starter directory used until a
// real one is configured.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Services: []Service{
			{Name: "Initial Consultation", DisplayNames: map[string]string{"fr": "Consultation initiale"}},
			{Name: "Follow-up", DisplayNames: map[string]string{"fr": "Suivi"}},
		},
		Practitioners: []Practitioner{
			{
				Name: "Dr. Example",
				EventTypes: map[string]calcom.EventType{
					"Initial Consultation": {ID: "1", Slug: "initial-consultation"},
					"Follow-up":            {ID: "2", Slug: "follow-up"},
				},
			},
		},
	}
}
