package wasmhost

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenceline/fenceline/internal/decision"
)

func TestHostMutableContextUnsetSlotsReturnHostStateError(t *testing.T) {
	hmc := NewHostMutableContext()

	_, err := hmc.Response()
	var hse *HostStateError
	require.True(t, errors.As(err, &hse))
	assert.Equal(t, "response", hse.Slot)

	_, err = hmc.CombinedDecision()
	require.True(t, errors.As(err, &hse))

	_, err = hmc.CombinedTags()
	require.True(t, errors.As(err, &hse))

	_, err = hmc.Outcome()
	require.True(t, errors.As(err, &hse))
}

func TestHostMutableContextReadsLatestWrite(t *testing.T) {
	hmc := NewHostMutableContext()

	hmc.SetResponse(ResponseInterface{Status: 200})
	resp, err := hmc.Response()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	hmc.SetCombined(decision.Decision{Accept: 1}, []string{"a", "b"})
	d, err := hmc.CombinedDecision()
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Accept)
	tags, err := hmc.CombinedTags()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tags)

	hmc.SetOutcome(OutcomeRestricted)
	o, err := hmc.Outcome()
	require.NoError(t, err)
	assert.Equal(t, OutcomeRestricted, o)

	// A later write overwrites, never appends.
	hmc.SetResponse(ResponseInterface{Status: 503})
	resp, err = hmc.Response()
	require.NoError(t, err)
	assert.Equal(t, 503, resp.Status)
}
