package statusmachine

import (
	"errors"
	"testing"

	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOperatorAction_ValidTransitions(t *testing.T) {
	cases := []struct {
		from   models.CompanyStatus
		action OperatorAction
		want   models.CompanyStatus
	}{
		{models.StatusPending, ActionApprove, models.StatusApproved},
		{models.StatusPending, ActionMarkReviewComplete, models.StatusApproved},
		{models.StatusPending, ActionReject, models.StatusSuspicious},
		{models.StatusPending, ActionFlagFraudulent, models.StatusFraudulent},
		{models.StatusApproved, ActionFlagFraudulent, models.StatusFraudulent},
		{models.StatusApproved, ActionRevokeApproval, models.StatusSuspicious},
	}
	for _, c := range cases {
		got, err := ApplyOperatorAction(c.from, c.action)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestApplyOperatorAction_ClosureOverInvalidPairs(t *testing.T) {
	cases := []struct {
		from   models.CompanyStatus
		action OperatorAction
	}{
		{models.StatusSuspicious, ActionApprove},
		{models.StatusFraudulent, ActionApprove},
		{models.StatusApproved, ActionApprove},
		{models.StatusPending, ActionRevokeApproval},
		{models.StatusSuspicious, ActionFlagFraudulent},
	}
	for _, c := range cases {
		got, err := ApplyOperatorAction(c.from, c.action)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrPreconditionFailed))
		assert.Equal(t, c.from, got, "state must not mutate on a rejected transition")
	}
}

func TestApplyAutoClassification(t *testing.T) {
	assert.Equal(t, models.StatusFraudulent, ApplyAutoClassification(70, models.AnalysisComplete, models.StatusPending))
	assert.Equal(t, models.StatusFraudulent, ApplyAutoClassification(95, models.AnalysisComplete, models.StatusApproved))
	assert.Equal(t, models.StatusSuspicious, ApplyAutoClassification(50, models.AnalysisComplete, models.StatusPending))
	assert.Equal(t, models.StatusSuspicious, ApplyAutoClassification(50, models.AnalysisComplete, models.StatusApproved))
	assert.Equal(t, models.StatusApproved, ApplyAutoClassification(30, models.AnalysisComplete, models.StatusPending))
	assert.Equal(t, models.StatusSuspicious, ApplyAutoClassification(10, models.AnalysisInProgress, models.StatusPending))
	assert.Equal(t, models.StatusFraudulent, ApplyAutoClassification(10, models.AnalysisInProgress, models.StatusFraudulent))
}

func TestAutoApproveIfEligible(t *testing.T) {
	got, err := AutoApproveIfEligible(20, models.AnalysisComplete, models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got)

	_, err = AutoApproveIfEligible(40, models.AnalysisComplete, models.StatusPending)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPreconditionFailed))

	_, err = AutoApproveIfEligible(20, models.AnalysisInProgress, models.StatusPending)
	require.Error(t, err)

	_, err = AutoApproveIfEligible(20, models.AnalysisComplete, models.StatusApproved)
	require.Error(t, err)
}
