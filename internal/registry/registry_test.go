package registry

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/crewclaims/internal/model"
)

func newDefault(t *testing.T) *Registry {
	t.Helper()
	r, err := New(model.DefaultRegistryConfig(), nil)
	require.NoError(t, err)
	return r
}

func TestSelectBaseOrder(t *testing.T) {
	r := newDefault(t)

	got, err := r.Select(model.ClaimInput{ID: "c-1", Type: model.ClaimTypeGuarantee}, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.AgentType{
		model.AgentGuarantee,
		model.AgentFlightTime,
		model.AgentDutyTime,
		model.AgentExcessPayment,
		model.AgentCompliance,
	}, got)
}

func TestSelectConditionalInternationalPerDiem(t *testing.T) {
	r := newDefault(t)
	claim := model.ClaimInput{ID: "c-2", Type: model.ClaimTypePerDiem}

	domestic, err := r.Select(claim, &model.TripData{ID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, []model.AgentType{model.AgentPerDiem, model.AgentExcessPayment, model.AgentCompliance}, domestic)

	intl, err := r.Select(claim, &model.TripData{ID: "t-1", International: true})
	require.NoError(t, err)
	assert.Equal(t, []model.AgentType{
		model.AgentPerDiem,
		model.AgentDutyTime,
		model.AgentExcessPayment,
		model.AgentCompliance,
	}, intl)
}

func TestSelectWithoutTripSkipsTripRules(t *testing.T) {
	r := newDefault(t)

	got, err := r.Select(model.ClaimInput{ID: "c-3", Type: model.ClaimTypePremiumPay}, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.AgentType{
		model.AgentPremiumPay,
		model.AgentFlightTime,
		model.AgentExcessPayment,
		model.AgentCompliance,
	}, got)

	withDuty, err := r.Select(model.ClaimInput{ID: "c-3", Type: model.ClaimTypePremiumPay}, &model.TripData{DutyMinutes: 600})
	require.NoError(t, err)
	assert.Contains(t, withDuty, model.AgentDutyTime)
}

func TestSelectDeduplicatesKeepingFirstPosition(t *testing.T) {
	cfg := model.DefaultRegistryConfig()
	cfg.Rules[model.ClaimTypeDispute] = []model.AgentType{model.AgentCompliance, model.AgentDispute, model.AgentCompliance}

	r, err := New(cfg, nil)
	require.NoError(t, err)

	got, err := r.Select(model.ClaimInput{ID: "c-4", Type: model.ClaimTypeDispute}, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.AgentType{model.AgentCompliance, model.AgentDispute, model.AgentExcessPayment}, got)
}

func TestSelectUnknownClaimType(t *testing.T) {
	r := newDefault(t)

	_, err := r.Select(model.ClaimInput{ID: "c-5", Type: "bonus"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnknownClaimType))
	assert.True(t, model.IsConfigError(err))
}

func TestNewRejectsBadRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.RegistryConfig)
	}{
		{"unknown agent in base", func(c *model.RegistryConfig) {
			c.Rules[model.ClaimTypeDispute] = []model.AgentType{"oracle"}
		}},
		{"missing claim type", func(c *model.RegistryConfig) {
			delete(c.Rules, model.ClaimTypePerDiem)
		}},
		{"empty always-on", func(c *model.RegistryConfig) {
			c.AlwaysOn = nil
		}},
		{"always-on without compliance", func(c *model.RegistryConfig) {
			c.AlwaysOn = []model.AgentType{model.AgentExcessPayment}
		}},
		{"bad CEL", func(c *model.RegistryConfig) {
			c.Conditional = append(c.Conditional, model.ConditionalRule{Agent: model.AgentDutyTime, When: "claim.type =="})
		}},
		{"unknown conditional agent", func(c *model.RegistryConfig) {
			c.Conditional = append(c.Conditional, model.ConditionalRule{Agent: "oracle", When: "true"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := model.DefaultRegistryConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, nil)
			require.Error(t, err)
			assert.True(t, model.IsConfigError(err), "got %v", err)
		})
	}
}

func TestConditionalEvalErrorIsSkipped(t *testing.T) {
	cfg := model.DefaultRegistryConfig()
	// trip.missing is not a key; evaluation errors at runtime
	cfg.Conditional = []model.ConditionalRule{{Agent: model.AgentDutyTime, When: "trip.missing > 0"}}

	r, err := New(cfg, nil)
	require.NoError(t, err)

	got, err := r.Select(model.ClaimInput{ID: "c-6", Type: model.ClaimTypePerDiem}, nil)
	require.NoError(t, err)
	assert.NotContains(t, got, model.AgentDutyTime)
}

func TestAgentTypesCoversReachable(t *testing.T) {
	r := newDefault(t)
	assert.Equal(t, model.AgentTypes(), r.AgentTypes())
}

func TestSelectTotality(t *testing.T) {
	r := newDefault(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	claimTypes := model.ClaimTypes()

	properties.Property("every claim type selects a non-empty, duplicate-free set ending in compliance", prop.ForAll(
		func(typeIdx int, hasTrip, international bool, dutyMinutes int) bool {
			claim := model.ClaimInput{ID: "c", Type: claimTypes[typeIdx]}
			var trip *model.TripData
			if hasTrip {
				trip = &model.TripData{International: international, DutyMinutes: dutyMinutes}
			}

			first, err := r.Select(claim, trip)
			if err != nil || len(first) == 0 {
				return false
			}
			second, err := r.Select(claim, trip)
			if err != nil || len(second) != len(first) {
				return false
			}

			seen := make(map[model.AgentType]bool)
			for i, a := range first {
				if seen[a] || second[i] != a {
					return false
				}
				seen[a] = true
			}
			return seen[model.AgentCompliance] && first[len(first)-1] == model.AgentCompliance
		},
		gen.IntRange(0, len(claimTypes)-1),
		gen.Bool(),
		gen.Bool(),
		gen.IntRange(0, 1200),
	))

	properties.TestingRun(t)
}
