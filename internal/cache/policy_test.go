package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy_TTLs(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 30*time.Minute, p.TTL(Weather))
	assert.Equal(t, 2*time.Hour, p.TTL(Soil))
	assert.Equal(t, 6*time.Hour, p.TTL(Prediction))
	assert.Equal(t, 15*time.Minute, p.TTL(Alert))
	assert.Equal(t, 24*time.Hour, p.TTL(Profile))
	assert.Equal(t, time.Hour, p.TTL("irrigation"), "unknown category uses the default TTL")
}

func TestPolicy_ZeroValueFallsBack(t *testing.T) {
	var p Policy
	assert.Equal(t, DefaultTTL, p.TTL(Weather))
	assert.Equal(t, DefaultSchemaVersion, p.SchemaVersion(Weather))
}

func TestPolicy_Expired(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.Expired(Alert, 15*time.Minute))
	assert.True(t, p.Expired(Alert, 15*time.Minute+time.Nanosecond))
}

func TestCategory_Validate(t *testing.T) {
	for _, c := range Categories() {
		assert.NoError(t, c.Validate())
	}
	assert.Error(t, Category("").Validate())
	assert.Error(t, Category("a/b").Validate())
}
