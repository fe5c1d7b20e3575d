package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hr-incidents-api/internal/models"
)

func TestInitialState(t *testing.T) {
	cases := []struct {
		name             string
		requiresApproval bool
		registrant       models.UserRole
		want             models.IncidentState
	}{
		{"no approval needed", false, models.RoleSupervisor, models.StateNotApplicable},
		{"no approval needed even for field registrant", false, models.RoleFieldRegistrant, models.StateNotApplicable},
		{"supervisor starts at manager stage", true, models.RoleSupervisor, models.StatePendingManager},
		{"manager starts at manager stage", true, models.RoleManager, models.StatePendingManager},
		{"field registrant skips manager stage", true, models.RoleFieldRegistrant, models.StatePendingReviewer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, InitialState(tc.requiresApproval, tc.registrant))
		})
	}
}

func TestCanTransitionExhaustive(t *testing.T) {
	allowed := map[[2]models.IncidentState]bool{
		{models.StatePendingManager, models.StatePendingReviewer}: true,
		{models.StatePendingManager, models.StateRejected}:        true,
		{models.StatePendingReviewer, models.StateApproved}:       true,
		{models.StatePendingReviewer, models.StateRejected}:       true,
	}
	states := []models.IncidentState{
		models.StatePendingManager,
		models.StatePendingReviewer,
		models.StateApproved,
		models.StateRejected,
		models.StateNotApplicable,
	}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]models.IncidentState{from, to}]
			require.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	require.True(t, IsTerminal(models.StateApproved))
	require.True(t, IsTerminal(models.StateRejected))
	require.True(t, IsTerminal(models.StateNotApplicable))
	require.False(t, IsTerminal(models.StatePendingManager))
	require.False(t, IsTerminal(models.StatePendingReviewer))
}

func TestApproveTarget(t *testing.T) {
	target, ok := ApproveTarget(models.StatePendingManager)
	require.True(t, ok)
	require.Equal(t, models.StatePendingReviewer, target)

	target, ok = ApproveTarget(models.StatePendingReviewer)
	require.True(t, ok)
	require.Equal(t, models.StateApproved, target)

	_, ok = ApproveTarget(models.StateApproved)
	require.False(t, ok)
	_, ok = ApproveTarget(models.StateNotApplicable)
	require.False(t, ok)
}

func TestIsApproveEdge(t *testing.T) {
	require.True(t, IsApproveEdge(models.StatePendingManager, models.StatePendingReviewer))
	require.True(t, IsApproveEdge(models.StatePendingReviewer, models.StateApproved))
	require.False(t, IsApproveEdge(models.StatePendingManager, models.StateRejected))
	require.False(t, IsApproveEdge(models.StateApproved, models.StateApproved))
}

func TestValidState(t *testing.T) {
	require.True(t, ValidState(models.StatePendingManager))
	require.False(t, ValidState(models.IncidentState("PENDING_GPS")))
	require.False(t, ValidState(models.IncidentState("")))
}
