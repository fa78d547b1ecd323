package cache

import (
	"fmt"
	"strings"
	"time"
)

// Category groups cache entries that share a TTL and schema version.
type Category string

// Known categories.
const (
	Weather    Category = "weather"
	Soil       Category = "soil"
	Prediction Category = "prediction"
	Alert      Category = "alert"
	Profile    Category = "profile"
)

// DefaultTTL applies to categories without an explicit TTL.
const DefaultTTL = time.Hour

// DefaultSchemaVersion applies to categories without an explicit version.
const DefaultSchemaVersion = 1

// Categories returns the known categories in a stable order.
func Categories() []Category {
	return []Category{Weather, Soil, Prediction, Alert, Profile}
}

// Validate rejects categories that cannot form a record key.
func (c Category) Validate() error {
	if c == "" {
		return fmt.Errorf("empty category")
	}
	if strings.Contains(string(c), "/") {
		return fmt.Errorf("category %q contains '/'", c)
	}
	return nil
}

// Policy maps categories to TTLs and schema versions.
//
// Bumping a category's schema version makes every entry written under the
// old version read as absent. Nothing is deleted; old records are simply
// overwritten on the next put.
type Policy struct {
	DefaultTTL     time.Duration              `koanf:"default_ttl" validate:"gt=0"`
	TTLs           map[Category]time.Duration `koanf:"ttls" validate:"dive,gt=0"`
	SchemaVersions map[Category]int           `koanf:"schema_versions" validate:"dive,gte=1"`
}

// DefaultPolicy returns the default TTL table.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: DefaultTTL,
		TTLs: map[Category]time.Duration{
			Weather:    30 * time.Minute,
			Soil:       2 * time.Hour,
			Prediction: 6 * time.Hour,
			Alert:      15 * time.Minute,
			Profile:    24 * time.Hour,
		},
		SchemaVersions: map[Category]int{},
	}
}

// TTL returns the TTL for c, falling back to DefaultTTL.
func (p Policy) TTL(c Category) time.Duration {
	if ttl, ok := p.TTLs[c]; ok && ttl > 0 {
		return ttl
	}
	if p.DefaultTTL > 0 {
		return p.DefaultTTL
	}
	return DefaultTTL
}

// SchemaVersion returns the expected schema version for c.
func (p Policy) SchemaVersion(c Category) int {
	if v, ok := p.SchemaVersions[c]; ok && v > 0 {
		return v
	}
	return DefaultSchemaVersion
}

// Expired reports whether an entry of age exceeds the TTL for c.
// An entry aged exactly the TTL is still fresh.
func (p Policy) Expired(c Category, age time.Duration) bool {
	return age > p.TTL(c)
}
