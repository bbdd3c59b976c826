package keeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestartPolicy_Allows(t *testing.T) {
	tests := []struct {
		name     string
		policy   RestartPolicy
		reason   CrashReason
		restarts int
		want     bool
	}{
		{"default first crash", DefaultRestartPolicy, ReasonPanic, 0, true},
		{"default second crash", DefaultRestartPolicy, ReasonError, 1, false},
		{"no restart", NoRestart, ReasonExit, 0, false},
		{"reason filtered", RestartPolicy{MaxImmediateRestarts: 3, On: RestartOnPanic}, ReasonError, 0, false},
		{"reason matched", RestartPolicy{MaxImmediateRestarts: 3, On: RestartOnPanic | RestartOnExit}, ReasonExit, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Allows(tt.reason, tt.restarts))
		})
	}
}

func TestRestartPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultRestartPolicy.Validate())
	require.NoError(t, NoRestart.Validate())
	require.Error(t, RestartPolicy{MaxImmediateRestarts: -1}.Validate())
	require.Error(t, RestartPolicy{Delay: -time.Second}.Validate())
	require.Error(t, RestartPolicy{ResetAfter: -time.Second}.Validate())
}

func TestParseRestartOptions(t *testing.T) {
	opt, err := ParseRestartOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, RestartAlways, opt)

	opt, err = ParseRestartOptions([]string{"panic", " Exit "})
	require.NoError(t, err)
	assert.True(t, opt.Is(RestartOnPanic))
	assert.True(t, opt.Is(RestartOnExit))
	assert.False(t, opt.Is(RestartOnError))

	_, err = ParseRestartOptions([]string{"reboot"})
	require.Error(t, err)
}
