package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyProvider(name string) ProviderEntry {
	return ProviderEntry{Name: name, DisplayName: name, Type: ProviderCloud, Enabled: true, Health: HealthHealthy}
}

func TestRegistry_CreateGetModel(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.CreateProvider(healthyProvider("openai")))

	require.NoError(t, r.CreateModel(ModelEntry{
		Name: "gpt-5", ProviderID: "openai", Status: ModelActive, Enabled: true, Family: "gpt",
	}))

	got, err := r.GetModel("gpt-5")
	require.NoError(t, err)
	assert.Equal(t, ModelActive, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRegistry_GetEnabledModels_ExcludesUnhealthyProvider(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.CreateProvider(ProviderEntry{Name: "down", Enabled: true, Health: HealthUnhealthy}))
	require.NoError(t, r.CreateProvider(healthyProvider("up")))

	require.NoError(t, r.CreateModel(ModelEntry{Name: "m1", ProviderID: "down", Status: ModelActive, Enabled: true}))
	require.NoError(t, r.CreateModel(ModelEntry{Name: "m2", ProviderID: "up", Status: ModelActive, Enabled: true}))

	enabled := r.GetEnabledModels()
	require.Len(t, enabled, 1)
	assert.Equal(t, "m2", enabled[0].Name)
}

func TestRegistry_GetEnabledModels_ExcludesShadowAndRetired(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.CreateProvider(healthyProvider("up")))
	require.NoError(t, r.CreateModel(ModelEntry{Name: "shadow-m", ProviderID: "up", Status: ModelShadow, Enabled: true}))
	require.NoError(t, r.CreateModel(ModelEntry{Name: "retired-m", ProviderID: "up", Status: ModelRetired, Enabled: true}))

	assert.Empty(t, r.GetEnabledModels())
	assert.Len(t, r.GetShadowModels(), 1)
}

func TestRegistry_PromoteDemote_MutuallyExclusive(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.CreateProvider(healthyProvider("up")))
	require.NoError(t, r.CreateModel(ModelEntry{Name: "m1", ProviderID: "up", Status: ModelShadow, Enabled: true}))

	require.NoError(t, r.PromoteToActive("m1"))
	got, err := r.GetModel("m1")
	require.NoError(t, err)
	assert.Equal(t, ModelActive, got.Status)

	err = r.PromoteToActive("m1")
	assert.ErrorIs(t, err, ErrAlreadyActive)

	require.NoError(t, r.DemoteToShadow("m1"))
	got, err = r.GetModel("m1")
	require.NoError(t, err)
	assert.Equal(t, ModelShadow, got.Status)
}

func TestRegistry_PromoteUnknownModel(t *testing.T) {
	r := NewRegistry()
	err := r.PromoteToActive("missing")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestRegistry_Stats(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.CreateProvider(healthyProvider("up")))
	require.NoError(t, r.CreateModel(ModelEntry{Name: "m1", ProviderID: "up", Status: ModelActive, Enabled: true}))
	require.NoError(t, r.CreateModel(ModelEntry{Name: "m2", ProviderID: "up", Status: ModelShadow, Enabled: true}))

	s := r.Stats()
	assert.Equal(t, 2, s.TotalModels)
	assert.Equal(t, 1, s.ActiveModels)
	assert.Equal(t, 1, s.ShadowModels)
	assert.Equal(t, 1, s.HealthyProvs)
}

func TestRouteShadowMirror_Boundaries(t *testing.T) {
	assert.False(t, RouteShadowMirror("user-1", 0))
	assert.True(t, RouteShadowMirror("user-1", 100))
}

func TestRouteShadowMirror_Deterministic(t *testing.T) {
	a := RouteShadowMirror("user-42", 50)
	b := RouteShadowMirror("user-42", 50)
	assert.Equal(t, a, b)
}
