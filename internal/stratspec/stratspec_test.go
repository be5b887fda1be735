package stratspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpec_Validate_RejectsUnknownArchetype(t *testing.T) {
	s := Spec{Archetype: "nonsense", Symbol: "NQ", Interval: "5m"}
	require.Error(t, s.Validate())
}

func TestSpec_Validate_RejectsMissingSymbol(t *testing.T) {
	s := Spec{Archetype: ArchetypeORB, Interval: "5m"}
	require.Error(t, s.Validate())
}

func TestSpec_Validate_RejectsUnrecognizedParam(t *testing.T) {
	s := Spec{
		Archetype: ArchetypeORB, Symbol: "NQ", Interval: "5m",
		Params: map[string]any{"orb_start": "09:30", "not_a_real_param": 1.0},
	}
	require.Error(t, s.Validate())
}

func TestSpec_Validate_AcceptsKnownParams(t *testing.T) {
	s := Spec{
		Archetype: ArchetypeORB, Symbol: "NQ", Interval: "5m",
		Params: map[string]any{"orb_start": "09:30", "sl_atr_mult": 2.0},
	}
	require.NoError(t, s.Validate())
}

func TestSpec_Hash_IsStableAcrossParamOrder(t *testing.T) {
	s1 := Spec{
		Archetype: ArchetypeORB,
		Symbol:    "NQ",
		Interval:  "5m",
		Params: map[string]any{
			"orb_start": "09:30",
			"orb_end":   "09:45",
			"sl_mult":   2.0,
		},
	}
	s2 := Spec{
		Archetype: ArchetypeORB,
		Symbol:    "NQ",
		Interval:  "5m",
		Params: map[string]any{
			"sl_mult":   2.0,
			"orb_end":   "09:45",
			"orb_start": "09:30",
		},
	}
	assert.Equal(t, s1.Hash(), s2.Hash())
}

func TestSpec_Hash_DiffersOnParamValue(t *testing.T) {
	s1 := Spec{Archetype: ArchetypeORB, Symbol: "NQ", Interval: "5m", Params: map[string]any{"sl_mult": 2.0}}
	s2 := Spec{Archetype: ArchetypeORB, Symbol: "NQ", Interval: "5m", Params: map[string]any{"sl_mult": 2.5}}
	assert.NotEqual(t, s1.Hash(), s2.Hash())
}

func TestSpec_Hash_DiffersOnSymbolOrArchetype(t *testing.T) {
	base := Spec{Archetype: ArchetypeORB, Symbol: "NQ", Interval: "5m"}
	diffSymbol := Spec{Archetype: ArchetypeORB, Symbol: "ES", Interval: "5m"}
	diffArchetype := Spec{Archetype: ArchetypeMACrossover, Symbol: "NQ", Interval: "5m"}
	assert.NotEqual(t, base.Hash(), diffSymbol.Hash())
	assert.NotEqual(t, base.Hash(), diffArchetype.Hash())
}

func TestSpec_ParamAccessors_FallBackToDefaults(t *testing.T) {
	s := Spec{Params: map[string]any{"x": 1.5, "y": 3, "z": "hi", "w": true}}
	assert.Equal(t, 1.5, s.FloatParam("x", 0))
	assert.Equal(t, 0.0, s.FloatParam("missing", 0))
	assert.Equal(t, 3, s.IntParam("y", -1))
	assert.Equal(t, "hi", s.StringParam("z", "default"))
	assert.Equal(t, true, s.BoolParam("w", false))
	assert.Equal(t, "default", s.StringParam("missing", "default"))
}
