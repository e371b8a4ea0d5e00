package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-reconciliation-service/internal/models"
)

func TestMatchingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *MatchingConfig)
		wantErr bool
	}{
		{"default", func(c *MatchingConfig) {}, false},
		{"negative min score", func(c *MatchingConfig) { c.MinScore = -1 }, true},
		{"negative gap", func(c *MatchingConfig) { c.AmbiguityGap = -5 }, true},
		{"medium above high", func(c *MatchingConfig) { c.MediumConfidenceScore = 120 }, true},
		{"medium below min", func(c *MatchingConfig) { c.MediumConfidenceScore = 60 }, true},
		{"single ambiguous candidate", func(c *MatchingConfig) { c.AmbiguousCandidates = 1 }, true},
		{"negative weight", func(c *MatchingConfig) { c.Weights.Office = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultMatchingConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPresets(t *testing.T) {
	for _, name := range []string{"", "default", "strict", "relaxed"} {
		c, err := ConfigForPreset(name)
		require.NoError(t, err, name)
		assert.NoError(t, c.Validate(), name)
	}

	_, err := ConfigForPreset("loose")
	assert.Error(t, err)

	assert.Greater(t, StrictMatchingConfig().MinScore, DefaultMatchingConfig().MinScore)
	assert.Less(t, RelaxedMatchingConfig().MinScore, DefaultMatchingConfig().MinScore)
}

func TestTier(t *testing.T) {
	c := DefaultMatchingConfig()
	assert.Equal(t, models.ConfidenceHigh, c.Tier(120))
	assert.Equal(t, models.ConfidenceHigh, c.Tier(100))
	assert.Equal(t, models.ConfidenceMedium, c.Tier(95))
	assert.Equal(t, models.ConfidenceMedium, c.Tier(85))
	assert.Equal(t, models.ConfidenceLow, c.Tier(75))
}

func TestClone(t *testing.T) {
	c := DefaultMatchingConfig()
	clone := c.Clone()
	clone.MinScore = 10
	clone.Weights.Office = 1

	assert.Equal(t, 70, c.MinScore)
	assert.Equal(t, 50, c.Weights.Office)

	var nilConfig *MatchingConfig
	assert.Nil(t, nilConfig.Clone())
}
