package policy

import "github.com/flywheel-mesh/meshcore/pkg/contracts"

// PlanType enumerates the rollback plan kinds this package can emit.
// Rollback is a single-step bundle revert today; the type exists so the
// external apply pipeline's plan schema doesn't need to change if a
// staged/multi-step plan kind is added later.
type PlanType string

// RollbackBundleRevert reverts a zone to a previously built bundle.
const RollbackBundleRevert PlanType = "bundle_revert"

// RollbackPlan is an inert artifact describing a rollback the caller's
// apply pipeline must execute — this package never applies it itself,
// per spec §4.7 ("does not execute").
type RollbackPlan struct {
	PlanType         PlanType
	ZoneID           contracts.ZoneId
	CurrentPolicyID  string
	PreviousPolicyID string
}

// PlanRollback builds the plan artifact for reverting zoneID from
// currentBundleID back to previousBundleID.
func PlanRollback(zoneID contracts.ZoneId, currentBundleID, previousBundleID string) RollbackPlan {
	return RollbackPlan{
		PlanType:         RollbackBundleRevert,
		ZoneID:           zoneID,
		CurrentPolicyID:  currentBundleID,
		PreviousPolicyID: previousBundleID,
	}
}
