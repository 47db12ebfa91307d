package cascade

import (
	"fmt"

	"label_pizza/workspace/keys"
	"label_pizza/workspace/schema"

	"gorm.io/gorm"
)

// PlanDemotion computes the overrides that revert when the admin user loses
// the admin role kind. Overrides in projects where the user keeps an active
// admin assignment stay.
func PlanDemotion(txn *gorm.DB, userUid string) (Plan, error) {
	user, err := schema.GetUser(txn, userUid)
	if err != nil {
		return Plan{}, err
	}
	if !user.IsAdmin() {
		return Plan{}, schema.Invalid("user '%v' is %v, not %v", userUid, user.RoleKind, schema.AdminKind)
	}

	plan, err := demotionGraph.plan(txn, userRoleKindNode, user.Id, schema.UserEntity, keys.New(userUid))
	if err != nil {
		return Plan{}, err
	}
	plan.Demotion = true
	plan.Token = fingerprint(plan)
	return plan, nil
}

// ExecuteDemotion re-plans inside txn and reverts the overrides. It must run
// before the user's role kind is changed.
func ExecuteDemotion(txn *gorm.DB, confirmed Plan) error {
	if !confirmed.Demotion || len(confirmed.Key) != 1 {
		return fmt.Errorf("plan for %v %v is not a demotion plan", confirmed.Entity, confirmed.Key)
	}

	current, err := PlanDemotion(txn, confirmed.Key[0])
	if err != nil {
		return err
	}
	if !covers(confirmed, current) {
		return ErrPlanChanged
	}

	return apply(txn, demotionGraph, current)
}
