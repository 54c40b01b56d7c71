// Package statusmachine implements the company status transitions as total
// functions over (state, driver) -> state, covering both operator actions
// and post-analysis auto-classification (spec.md §4.7).
package statusmachine

import (
	"fmt"

	"github.com/codeready-toolchain/verihub/pkg/models"
)

// OperatorAction is an explicit command token submitted against a company.
type OperatorAction string

// Operator action tokens (spec.md §4.7).
const (
	ActionApprove            OperatorAction = "approve"
	ActionMarkReviewComplete OperatorAction = "mark_review_complete"
	ActionReject             OperatorAction = "reject"
	ActionFlagFraudulent     OperatorAction = "flag_fraudulent"
	ActionRevokeApproval     OperatorAction = "revoke_approval"
)

// operatorTransitions is the closed table of (fromState, action) -> toState.
// Any pair not present here is invalid.
var operatorTransitions = map[models.CompanyStatus]map[OperatorAction]models.CompanyStatus{
	models.StatusPending: {
		ActionApprove:            models.StatusApproved,
		ActionMarkReviewComplete: models.StatusApproved,
		ActionReject:             models.StatusSuspicious,
		ActionFlagFraudulent:     models.StatusFraudulent,
	},
	models.StatusApproved: {
		ActionFlagFraudulent: models.StatusFraudulent,
		ActionRevokeApproval: models.StatusSuspicious,
	},
}

// ApplyOperatorAction computes the next status for an explicit operator
// command. It mutates nothing; callers persist the result. Any (state,
// action) pair outside the table returns models.ErrPreconditionFailed
// (spec.md: "status-machine closure").
func ApplyOperatorAction(current models.CompanyStatus, action OperatorAction) (models.CompanyStatus, error) {
	byAction, ok := operatorTransitions[current]
	if !ok {
		return current, models.NewPreconditionError(
			fmt.Sprintf("no operator actions are valid from status %q", current))
	}
	next, ok := byAction[action]
	if !ok {
		return current, models.NewPreconditionError(
			fmt.Sprintf("action %q is not valid from status %q", action, current))
	}
	return next, nil
}

// ApplyAutoClassification implements the post-analysis auto-classification
// driver (spec.md §4.7, rule 2). It is called once per save_analysis and is
// total: every (riskScore, analysisStatus, currentStatus) combination maps
// to a defined next status.
func ApplyAutoClassification(riskScore int, analysisStatus models.AnalysisStatus, current models.CompanyStatus) models.CompanyStatus {
	switch {
	case analysisStatus != models.AnalysisComplete && current != models.StatusFraudulent:
		// An incomplete run never reaches fraudulent through this path alone
		// (spec.md §7), regardless of how high the partial risk score is.
		return models.StatusSuspicious
	case riskScore >= 70:
		return models.StatusFraudulent
	case riskScore >= 31 && riskScore <= 69 &&
		(current == models.StatusPending || current == models.StatusApproved):
		return models.StatusSuspicious
	default:
		if next, err := AutoApproveIfEligible(riskScore, analysisStatus, current); err == nil {
			return next
		}
		return current
	}
}

// AutoApproveIfEligible is the idempotent operator-callable counterpart to
// the auto-approve branch of ApplyAutoClassification (spec.md §4.7,
// resolving the "single function used from both call sites" open
// question). It requires analysisStatus == complete, riskScore <= 30, and
// current == pending; any other state returns a precondition-failed error
// and leaves current unchanged.
func AutoApproveIfEligible(riskScore int, analysisStatus models.AnalysisStatus, current models.CompanyStatus) (models.CompanyStatus, error) {
	if analysisStatus == models.AnalysisComplete && riskScore <= 30 && current == models.StatusPending {
		return models.StatusApproved, nil
	}
	return current, models.NewPreconditionError("company is not eligible for auto-approval")
}
