package cascade_test

import (
	"testing"
	"time"

	"label_pizza/workspace/cascade"
	"label_pizza/workspace/keys"
	"label_pizza/workspace/schema"
	"label_pizza/workspace/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type world struct {
	db       *gorm.DB
	f        *testutil.Fixture
	video    schema.Video
	question schema.Question
	group    schema.QuestionGroup
	schema   schema.Schema
	project  schema.Project
	alice    schema.User
	bob      schema.User
	carol    schema.User
}

func newWorld(t *testing.T) *world {
	db := testutil.NewDb(t)
	f := testutil.NewFixture(t, db)

	w := &world{db: db, f: f}
	w.video = f.Video("v1")
	w.question = f.SingleChoice("is it raining?", []string{"yes", "no"}, nil)
	w.group = f.Group("Weather", false, w.question)
	w.schema = f.Schema("s1", true, w.group)
	w.project = f.Project("p1", w.schema, w.video)
	w.alice = f.User("alice", schema.HumanKind)
	w.bob = f.User("bob", schema.HumanKind)
	w.carol = f.User("carol", schema.HumanKind)
	return w
}

func count[T any](t *testing.T, db *gorm.DB, query string, args ...interface{}) int64 {
	var n int64
	require.NoError(t, db.Model(new(T)).Where(query, args...).Count(&n).Error)
	return n
}

func TestRevokeAnnotatorCascadesThroughRoles(t *testing.T) {
	w := newWorld(t)

	w.f.Assign(w.project, w.alice, schema.AnnotatorRole, 1.0)
	w.f.Assign(w.project, w.alice, schema.ReviewerRole, 1.0)
	w.f.Assign(w.project, w.alice, schema.AdminRole, 1.0)
	w.f.Assign(w.project, w.bob, schema.AnnotatorRole, 1.0)

	aliceAnswer := w.f.Answer(w.project, w.video, w.question, w.alice, "yes")
	bobAnswer := w.f.Answer(w.project, w.video, w.question, w.bob, "no")
	w.f.Review(aliceAnswer, w.bob, schema.ReviewApproved)
	w.f.Review(bobAnswer, w.alice, schema.ReviewRejected)
	w.f.GroundTruth(w.project, w.video, w.question, w.alice, "yes")

	plan, err := cascade.PlanRemoval(w.db, schema.AssignmentEntity, keys.New("alice", "p1", schema.AnnotatorRole))
	require.NoError(t, err)

	actions := make(map[schema.EntityType][]cascade.Action)
	for _, step := range plan.Steps {
		actions[step.Entity] = append(actions[step.Entity], step.Action)
	}
	assert.Equal(t, []cascade.Action{cascade.Delete}, actions[schema.AnswerEntity])
	assert.Equal(t, []cascade.Action{cascade.Delete, cascade.Delete}, actions[schema.AnswerReviewEntity])
	assert.Equal(t, []cascade.Action{cascade.Delete}, actions[schema.GroundTruthEntity])
	assert.Equal(t, []cascade.Action{cascade.Archive, cascade.Archive, cascade.Archive}, actions[schema.AssignmentEntity])

	last := plan.Steps[len(plan.Steps)-1]
	assert.Equal(t, keys.New("alice", "p1", schema.AnnotatorRole), last.Key)
	assert.Equal(t, cascade.Archive, last.Action)

	executed, err := cascade.Remove(w.db, schema.AssignmentEntity, keys.New("alice", "p1", schema.AnnotatorRole), cascade.AutoConfirm)
	require.NoError(t, err)
	assert.Equal(t, plan.Token, executed.Token)

	assert.Zero(t, count[schema.AnnotatorAnswer](t, w.db, "user_id = ?", w.alice.Id))
	assert.EqualValues(t, 1, count[schema.AnnotatorAnswer](t, w.db, "user_id = ?", w.bob.Id))
	assert.Zero(t, count[schema.AnswerReview](t, w.db, "1 = 1"))
	assert.Zero(t, count[schema.ReviewerGroundTruth](t, w.db, "1 = 1"))
	assert.Zero(t, count[schema.ProjectUserRole](t, w.db, "user_id = ? AND is_active = ?", w.alice.Id, true))
	assert.EqualValues(t, 1, count[schema.ProjectUserRole](t, w.db, "user_id = ? AND is_active = ?", w.bob.Id, true))
}

func TestDeclinedPlanHasNoSideEffects(t *testing.T) {
	w := newWorld(t)

	w.f.Assign(w.project, w.alice, schema.AnnotatorRole, 1.0)
	w.f.Answer(w.project, w.video, w.question, w.alice, "yes")

	var shown cascade.Plan
	plan, err := cascade.Remove(w.db, schema.AssignmentEntity, keys.New("alice", "p1", schema.AnnotatorRole), func(p cascade.Plan) bool {
		shown = p
		return false
	})
	require.ErrorIs(t, err, schema.ErrCascadeNotConfirmed)
	assert.Equal(t, shown.Token, plan.Token)
	assert.Len(t, plan.Steps, 2)

	assert.EqualValues(t, 1, count[schema.AnnotatorAnswer](t, w.db, "user_id = ?", w.alice.Id))
	assert.EqualValues(t, 1, count[schema.ProjectUserRole](t, w.db, "user_id = ? AND is_active = ?", w.alice.Id, true))
}

func TestRevokeAdminRevertsOverrides(t *testing.T) {
	w := newWorld(t)

	w.f.Assign(w.project, w.bob, schema.ReviewerRole, 1.0)
	w.f.Assign(w.project, w.carol, schema.AdminRole, 1.0)

	gt := w.f.GroundTruth(w.project, w.video, w.question, w.bob, "no")
	gt.ApplyOverride("yes", w.carol.Id, time.Now())
	gt.ApplyOverride("no", w.carol.Id, time.Now())
	gt.ApplyOverride("yes", w.carol.Id, time.Now())
	require.NoError(t, w.db.Save(&gt).Error)
	require.Equal(t, "no", *gt.OriginalAnswerValue)

	plan, err := cascade.Remove(w.db, schema.AssignmentEntity, keys.New("carol", "p1", schema.AdminRole), cascade.AutoConfirm)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, cascade.Revert, plan.Steps[0].Action)
	assert.Equal(t, keys.New("v1", "is it raining?", "p1"), plan.Steps[0].Key)

	var reverted schema.ReviewerGroundTruth
	require.NoError(t, w.db.First(&reverted, "id = ?", gt.Id).Error)
	assert.Equal(t, "no", reverted.AnswerValue)
	assert.Nil(t, reverted.OriginalAnswerValue)
	assert.Nil(t, reverted.ModifiedByAdminId)
	assert.Nil(t, reverted.ModifiedByAdminAt)
	assert.Equal(t, w.bob.Id, reverted.ReviewerId)
}

func TestArchiveProjectArchivesDependents(t *testing.T) {
	w := newWorld(t)

	w.f.Assign(w.project, w.alice, schema.AnnotatorRole, 1.0)
	w.f.Assign(w.project, w.bob, schema.ReviewerRole, 1.0)
	w.f.Answer(w.project, w.video, w.question, w.alice, "yes")
	w.f.CustomDisplay(w.project, w.video, w.question, "Is it wet?")

	plan, err := cascade.Remove(w.db, schema.ProjectEntity, keys.New("p1"), cascade.AutoConfirm)
	require.NoError(t, err)
	for _, step := range plan.Steps {
		assert.Equal(t, cascade.Archive, step.Action, "%v %v", step.Entity, step.Key)
	}

	project, err := schema.GetProject(w.db, "p1", false)
	require.NoError(t, err)
	assert.False(t, project.IsActive)

	assert.Zero(t, count[schema.ProjectUserRole](t, w.db, "project_id = ? AND is_active = ?", w.project.Id, true))
	assert.Zero(t, count[schema.CustomDisplay](t, w.db, "project_id = ? AND is_active = ?", w.project.Id, true))
	assert.EqualValues(t, 1, count[schema.AnnotatorAnswer](t, w.db, "project_id = ?", w.project.Id))
}

func TestArchiveQuestionGroupReachesProjects(t *testing.T) {
	w := newWorld(t)
	w.f.Assign(w.project, w.alice, schema.AnnotatorRole, 1.0)

	plan, err := cascade.PlanRemoval(w.db, schema.QuestionGroupEntity, keys.New("Weather"))
	require.NoError(t, err)

	entities := make([]schema.EntityType, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		entities = append(entities, step.Entity)
	}
	assert.Equal(t, []schema.EntityType{
		schema.AssignmentEntity, schema.ProjectEntity, schema.SchemaEntity, schema.QuestionGroupEntity,
	}, entities)
}

func TestExecuteRejectsStalePlan(t *testing.T) {
	w := newWorld(t)
	w.f.Assign(w.project, w.alice, schema.AnnotatorRole, 1.0)

	plan, err := cascade.PlanRemoval(w.db, schema.AssignmentEntity, keys.New("alice", "p1", schema.AnnotatorRole))
	require.NoError(t, err)

	w.f.Answer(w.project, w.video, w.question, w.alice, "yes")

	err = w.db.Transaction(func(txn *gorm.DB) error {
		return cascade.Execute(txn, plan)
	})
	require.ErrorIs(t, err, cascade.ErrPlanChanged)
	assert.ErrorIs(t, err, schema.ErrConflict)
	assert.EqualValues(t, 1, count[schema.AnnotatorAnswer](t, w.db, "user_id = ?", w.alice.Id))
}

func TestChangeSchemaClearsProjectData(t *testing.T) {
	w := newWorld(t)

	other := w.f.SingleChoice("is it sunny?", []string{"yes", "no"}, nil)
	replacement := w.f.Schema("s2", false, w.f.Group("Sun", false, other))

	w.f.Assign(w.project, w.alice, schema.AnnotatorRole, 1.0)
	answer := w.f.Answer(w.project, w.video, w.question, w.alice, "yes")
	w.f.Review(answer, w.bob, schema.ReviewApproved)
	w.f.GroundTruth(w.project, w.video, w.question, w.bob, "yes")
	w.f.CustomDisplay(w.project, w.video, w.question, "Wet?")

	_, err := cascade.ChangeSchema(w.db, "p1", "s2", cascade.Decline)
	require.ErrorIs(t, err, schema.ErrCascadeNotConfirmed)

	plan, err := cascade.ChangeSchema(w.db, "p1", "s2", cascade.AutoConfirm)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 4)
	assert.Equal(t, "s2", plan.ReplacementSchema)

	project, err := schema.GetProject(w.db, "p1", false)
	require.NoError(t, err)
	assert.Equal(t, replacement.Id, project.SchemaId)

	assert.Zero(t, count[schema.AnnotatorAnswer](t, w.db, "project_id = ?", w.project.Id))
	assert.Zero(t, count[schema.AnswerReview](t, w.db, "1 = 1"))
	assert.Zero(t, count[schema.ReviewerGroundTruth](t, w.db, "project_id = ?", w.project.Id))
	assert.Zero(t, count[schema.CustomDisplay](t, w.db, "project_id = ?", w.project.Id))
	assert.EqualValues(t, 1, count[schema.ProjectUserRole](t, w.db, "project_id = ? AND is_active = ?", w.project.Id, true))

	_, err = cascade.ChangeSchema(w.db, "p1", "s2", cascade.AutoConfirm)
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)
}

func TestChangeSchemaKeepsProjectGroupsValid(t *testing.T) {
	w := newWorld(t)

	other := w.f.SingleChoice("is it sunny?", []string{"yes", "no"}, nil)
	s2 := w.f.Schema("s2", false, w.f.Group("Sun", false, other))
	p2 := w.f.Project("p2", s2, w.video)
	w.f.ProjectGroup("g", w.project, p2)

	_, err := cascade.ChangeSchema(w.db, "p2", "s1", cascade.AutoConfirm)
	require.ErrorIs(t, err, schema.ErrConflict)
	assert.Contains(t, err.Error(), "project group 'g'")

	project, err := schema.GetProject(w.db, "p2", false)
	require.NoError(t, err)
	assert.Equal(t, s2.Id, project.SchemaId)
}

func overriddenGroundTruth(t *testing.T, w *world, project schema.Project, admin schema.User) schema.ReviewerGroundTruth {
	gt := w.f.GroundTruth(project, w.video, w.question, w.bob, "no")
	gt.ApplyOverride("yes", admin.Id, time.Now())
	require.NoError(t, w.db.Save(&gt).Error)
	return gt
}

func loadGroundTruth(t *testing.T, db *gorm.DB, id interface{}) schema.ReviewerGroundTruth {
	var gt schema.ReviewerGroundTruth
	require.NoError(t, db.First(&gt, "id = ?", id).Error)
	return gt
}

func TestArchivingGlobalAdminRevertsOverrides(t *testing.T) {
	w := newWorld(t)

	p2 := w.f.Project("p2", w.schema, w.video)
	dana := w.f.User("dana", schema.AdminKind)
	w.f.Assign(w.project, dana, schema.AdminRole, 1.0)

	assigned := overriddenGroundTruth(t, w, w.project, dana)
	global := overriddenGroundTruth(t, w, p2, dana)

	plan, err := cascade.Remove(w.db, schema.UserEntity, keys.New("dana"), cascade.AutoConfirm)
	require.NoError(t, err)

	actions := make(map[schema.EntityType][]cascade.Action)
	for _, step := range plan.Steps {
		actions[step.Entity] = append(actions[step.Entity], step.Action)
	}
	assert.Equal(t, []cascade.Action{cascade.Revert}, actions[schema.GroundTruthEntity])
	assert.Equal(t, []cascade.Action{cascade.Archive}, actions[schema.AssignmentEntity])
	assert.Equal(t, []cascade.Action{cascade.Archive}, actions[schema.UserEntity])

	reverted := loadGroundTruth(t, w.db, global.Id)
	assert.Equal(t, "no", reverted.AnswerValue)
	assert.False(t, reverted.IsOverridden())

	kept := loadGroundTruth(t, w.db, assigned.Id)
	assert.Equal(t, "yes", kept.AnswerValue)
	assert.True(t, kept.IsOverridden())
}

func TestDemotionRevertsGlobalOverrides(t *testing.T) {
	w := newWorld(t)

	p2 := w.f.Project("p2", w.schema, w.video)
	dana := w.f.User("dana", schema.AdminKind)
	w.f.Assign(w.project, dana, schema.AdminRole, 1.0)

	assigned := overriddenGroundTruth(t, w, w.project, dana)
	global := overriddenGroundTruth(t, w, p2, dana)

	_, err := cascade.PlanDemotion(w.db, "bob")
	require.ErrorIs(t, err, schema.ErrInvalidRecord)

	plan, err := cascade.PlanDemotion(w.db, "dana")
	require.NoError(t, err)
	assert.True(t, plan.Demotion)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, cascade.Revert, plan.Steps[0].Action)
	assert.Equal(t, keys.New("v1", "is it raining?", "p2"), plan.Steps[0].Key)
	assert.Contains(t, plan.String(), "demotion plan for user")

	err = w.db.Transaction(func(txn *gorm.DB) error {
		return cascade.Execute(txn, plan)
	})
	require.Error(t, err)

	require.NoError(t, w.db.Transaction(func(txn *gorm.DB) error {
		return cascade.ExecuteDemotion(txn, plan)
	}))

	assert.Equal(t, "no", loadGroundTruth(t, w.db, global.Id).AnswerValue)
	assert.Equal(t, "yes", loadGroundTruth(t, w.db, assigned.Id).AnswerValue)
}
