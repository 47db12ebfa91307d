package cascade

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"label_pizza/utils/logging"
	"label_pizza/workspace/identity"
	"label_pizza/workspace/keys"
	"label_pizza/workspace/metrics"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Step struct {
	Entity schema.EntityType `json:"entity"`
	Key    keys.Key          `json:"key"`
	Action Action            `json:"action"`

	node nodeType
	id   uuid.UUID
}

// Plan is the materialized list of row actions a removal performs, dependents
// first. Token fingerprints the steps so that execution can detect a store
// that changed after the plan was confirmed.
type Plan struct {
	Entity schema.EntityType `json:"entity"`
	Key    keys.Key          `json:"key"`
	// Set on schema change plans only.
	ReplacementSchema string `json:"replacement_schema,omitempty"`
	// Set on plans that revoke a user's admin role kind.
	Demotion bool   `json:"demotion,omitempty"`
	Steps    []Step `json:"steps"`
	Token    string `json:"token"`
}

func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

func (p Plan) String() string {
	var b strings.Builder
	kind := "removal"
	switch {
	case p.ReplacementSchema != "":
		kind = "schema change"
	case p.Demotion:
		kind = "demotion"
	}
	fmt.Fprintf(&b, "%v plan for %v %v (%d steps)\n", kind, p.Entity, p.Key, len(p.Steps))
	for i, step := range p.Steps {
		fmt.Fprintf(&b, "  %3d. %-8v %v %v\n", i+1, step.Action, step.Entity, step.Key)
	}
	return b.String()
}

// Confirmer is shown every plan before it is executed. Returning false
// cancels the operation without side effects.
type Confirmer func(plan Plan) bool

func AutoConfirm(Plan) bool { return true }

func Decline(Plan) bool { return false }

var ErrPlanChanged = fmt.Errorf("%w: store changed since the cascade plan was confirmed", schema.ErrConflict)

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func rootNode(entity schema.EntityType, key keys.Key) (nodeType, error) {
	if entity == schema.AssignmentEntity {
		if len(key) != 3 {
			return "", schema.Invalid("assignment key %v must be (user, project, role)", key)
		}
		if err := schema.CheckValidRole(key[2]); err != nil {
			return "", schema.Invalid("%v", err)
		}
		return roleNode(key[2]), nil
	}
	if _, ok := removalGraph.nodes[nodeType(entity)]; !ok {
		return "", fmt.Errorf("entity type %v cannot be removed", entity)
	}
	return nodeType(entity), nil
}

type plannedRow struct {
	node   nodeType
	id     uuid.UUID
	action Action
}

func (g *graph) collect(txn *gorm.DB, root nodeType, rootId uuid.UUID) ([]plannedRow, error) {
	rows := make(map[string]*plannedRow)
	expanded := make(map[string]bool)

	add := func(n nodeType, id uuid.UUID, action Action) {
		rowKey := string(g.nodes[n].entity) + "/" + id.String()
		if existing, ok := rows[rowKey]; ok {
			if action.precedence() > existing.action.precedence() {
				existing.action = action
			}
			if g.rank[n] > g.rank[existing.node] {
				existing.node = n
			}
			return
		}
		rows[rowKey] = &plannedRow{node: n, id: id, action: action}
	}

	var visit func(n nodeType, id uuid.UUID) error
	visit = func(n nodeType, id uuid.UUID) error {
		visitKey := string(n) + "/" + id.String()
		if expanded[visitKey] {
			return nil
		}
		expanded[visitKey] = true

		for _, e := range g.children[n] {
			childIds, err := e.sel(txn, id)
			if err != nil {
				return err
			}
			for _, childId := range childIds {
				add(e.child, childId, e.action)
				if err := visit(e.child, childId); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if action := g.nodes[root].root; action != "" {
		add(root, rootId, action)
	}
	if err := visit(root, rootId); err != nil {
		return nil, err
	}

	out := make([]plannedRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (g *graph) plan(txn *gorm.DB, root nodeType, rootId uuid.UUID, entity schema.EntityType, key keys.Key) (Plan, error) {
	rows, err := g.collect(txn, root, rootId)
	if err != nil {
		return Plan{}, err
	}

	steps := make([]Step, 0, len(rows))
	for _, row := range rows {
		def := g.nodes[row.node]
		naturalKey, err := identity.NaturalKeyOf(txn, def.entity, row.id)
		if err != nil {
			return Plan{}, err
		}
		steps = append(steps, Step{Entity: def.entity, Key: naturalKey, Action: row.action, node: row.node, id: row.id})
	}

	// Dependents run before the rows they depend on.
	sort.Slice(steps, func(i, j int) bool {
		ri, rj := g.rank[steps[i].node], g.rank[steps[j].node]
		if ri != rj {
			return ri > rj
		}
		if steps[i].Entity != steps[j].Entity {
			return steps[i].Entity < steps[j].Entity
		}
		if c := steps[i].Key.Compare(steps[j].Key); c != 0 {
			return c < 0
		}
		return steps[i].id.String() < steps[j].id.String()
	})

	plan := Plan{Entity: entity, Key: key, Steps: steps}
	plan.Token = fingerprint(plan)
	return plan, nil
}

func fingerprint(plan Plan) string {
	h := sha256.New()
	fmt.Fprintf(h, "%v|%v|%v|%v\n", plan.Entity, plan.Key.Id(), plan.ReplacementSchema, plan.Demotion)
	for _, step := range plan.Steps {
		fmt.Fprintf(h, "%v|%v|%v\n", step.Entity, step.id, step.Action)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// PlanRemoval computes the ordered actions that archiving or removing the
// entity with the given natural key implies, without changing the store.
func PlanRemoval(txn *gorm.DB, entity schema.EntityType, key keys.Key) (Plan, error) {
	root, err := rootNode(entity, key)
	if err != nil {
		return Plan{}, err
	}

	id, err := identity.Resolve(txn, entity, key)
	if err != nil {
		return Plan{}, err
	}

	return removalGraph.plan(txn, root, id, entity, key)
}

// Execute re-plans inside txn and applies the plan. The plan must match what
// the caller confirmed, or be a subset of it.
func Execute(txn *gorm.DB, confirmed Plan) error {
	if confirmed.ReplacementSchema != "" || confirmed.Demotion {
		return fmt.Errorf("plan for %v %v is not a removal plan", confirmed.Entity, confirmed.Key)
	}

	current, err := PlanRemoval(txn, confirmed.Entity, confirmed.Key)
	if err != nil {
		return err
	}
	if !covers(confirmed, current) {
		return ErrPlanChanged
	}

	return apply(txn, removalGraph, current)
}

// covers reports whether executing current stays within what was confirmed:
// either the same plan, or a plan whose steps were all part of the confirmed
// one. Plans decoded from a token-only request carry no row ids and must
// match exactly.
func covers(confirmed, current Plan) bool {
	if current.Token == confirmed.Token {
		return true
	}

	type row struct {
		entity schema.EntityType
		id     uuid.UUID
		action Action
	}
	allowed := make(map[row]bool, len(confirmed.Steps))
	for _, step := range confirmed.Steps {
		if step.id == uuid.Nil {
			return false
		}
		allowed[row{step.Entity, step.id, step.Action}] = true
	}
	for _, step := range current.Steps {
		if !allowed[row{step.Entity, step.id, step.Action}] {
			return false
		}
	}
	return true
}

// Remove plans the removal, asks confirm, and executes the plan in a single
// transaction. A declined plan is returned with ErrCascadeNotConfirmed.
func Remove(db *gorm.DB, entity schema.EntityType, key keys.Key, confirm Confirmer) (Plan, error) {
	plan, err := PlanRemoval(db, entity, key)
	if err != nil {
		return Plan{}, err
	}

	if !confirm(plan) {
		metrics.CascadeDeclined.Inc()
		slog.Info("cascade plan declined", "entity", entity, "key", key.String(), "steps", len(plan.Steps), "code", logging.CASCADE)
		return plan, schema.ErrCascadeNotConfirmed
	}

	err = db.Transaction(func(txn *gorm.DB) error {
		return Execute(txn, plan)
	})
	if err != nil {
		return plan, err
	}

	return plan, nil
}

func apply(txn *gorm.DB, g *graph, plan Plan) error {
	now := time.Now().UTC()

	for _, step := range plan.Steps {
		def := g.nodes[step.node]

		var err error
		switch step.Action {
		case Archive:
			err = txn.Model(def.model()).Where("id = ?", step.id).Update("is_active", false).Error
		case Delete:
			err = txn.Where("id = ?", step.id).Delete(def.model()).Error
		case Revert:
			err = revertGroundTruth(txn, step.id, now)
		default:
			err = fmt.Errorf("unknown cascade action %v", step.Action)
		}
		if err != nil {
			if errors.Is(err, schema.ErrStoreUnavailable) {
				return err
			}
			return schema.StoreError(fmt.Sprintf("applying %v to %v %v", step.Action, step.Entity, step.Key), err)
		}

		metrics.CascadeSteps.WithLabelValues(string(step.Entity), string(step.Action)).Inc()
	}

	slog.Info("executed cascade plan", "entity", plan.Entity, "key", plan.Key.String(), "steps", len(plan.Steps), "code", logging.CASCADE)

	return nil
}

func revertGroundTruth(txn *gorm.DB, id uuid.UUID, now time.Time) error {
	var gt schema.ReviewerGroundTruth
	if err := txn.First(&gt, "id = ?", id).Error; err != nil {
		return err
	}
	if !gt.RevertOverride() {
		return nil
	}
	gt.ModifiedAt = now
	if err := txn.Save(&gt).Error; err != nil {
		return err
	}
	slog.Info("reverted ground truth override", "ground_truth_id", gt.Id, "value", gt.AnswerValue, "code", logging.CASCADE)
	return nil
}
