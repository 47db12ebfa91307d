package consensus_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"label_pizza/workspace/consensus"
	"label_pizza/workspace/schema"
	"label_pizza/workspace/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type env struct {
	db      *gorm.DB
	f       *testutil.Fixture
	project schema.Project
	video   schema.Video
	single  schema.Question
	text    schema.Question
	admin   schema.User
}

func setup(t *testing.T) *env {
	db := testutil.NewDb(t)
	f := testutil.NewFixture(t, db)

	e := &env{db: db, f: f}
	e.video = f.Video("v1")
	e.single = f.SingleChoice("camera moving?", []string{"yes", "no", "unsure"}, []float64{1.0, 1.0, 0.5})
	e.text = f.FreeText("describe the scene")
	s := f.Schema("s1", true, f.AutoSubmit(f.Group("Camera", false, e.single, e.text), ""))
	e.project = f.Project("p1", s, e.video)
	e.admin = f.User("root", schema.AdminKind)
	return e
}

func (e *env) target(t *testing.T, question string) consensus.Target {
	target, err := consensus.LoadTarget(e.db, "p1", "v1", question)
	require.NoError(t, err)
	return target
}

func (e *env) member(uid, role string, weight float64) schema.User {
	user := e.f.User(uid, schema.HumanKind)
	e.f.Assign(e.project, user, role, weight)
	return user
}

func TestLoadTargetValidatesMembership(t *testing.T) {
	e := setup(t)
	e.f.Video("v2")
	e.f.SingleChoice("other?", []string{"a"}, nil)

	_, err := consensus.LoadTarget(e.db, "p1", "v2", "camera moving?")
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)

	_, err = consensus.LoadTarget(e.db, "p1", "v1", "other?")
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)

	_, err = consensus.LoadTarget(e.db, "missing", "v1", "camera moving?")
	assert.ErrorIs(t, err, schema.ErrNotFound)

	target := e.target(t, "describe the scene")
	assert.Equal(t, schema.FreeText, target.Question.Type)
}

func TestSubmitAnswerUpsertsInPlace(t *testing.T) {
	e := setup(t)
	alice := e.member("alice", schema.AnnotatorRole, 1.0)
	outsider := e.f.User("mallory", schema.HumanKind)
	target := e.target(t, "camera moving?")

	state, err := consensus.StateOf(e.db, target)
	require.NoError(t, err)
	assert.Equal(t, consensus.Unanswered, state)

	first, err := consensus.SubmitAnswer(e.db, alice, target, consensus.Input{Value: "yes"}, time.Now())
	require.NoError(t, err)

	second, err := consensus.SubmitAnswer(e.db, alice, target, consensus.Input{Value: "no", Notes: "changed my mind"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)

	answers, err := consensus.ListAnswers(e.db, target)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "alice", answers[0].User)
	assert.Equal(t, "no", answers[0].Value)

	state, err = consensus.StateOf(e.db, target)
	require.NoError(t, err)
	assert.Equal(t, consensus.Annotated, state)

	_, err = consensus.SubmitAnswer(e.db, alice, target, consensus.Input{Value: "maybe"}, time.Now())
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)

	_, err = consensus.SubmitAnswer(e.db, outsider, target, consensus.Input{Value: "yes"}, time.Now())
	assert.ErrorIs(t, err, schema.ErrRoleCapabilityMissing)

	confidence := 0.9
	_, err = consensus.SubmitAnswer(e.db, alice, target, consensus.Input{Value: "yes", Confidence: &confidence}, time.Now())
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)
}

func TestModelUsersNeedModelRole(t *testing.T) {
	e := setup(t)
	target := e.target(t, "camera moving?")

	model := e.f.User("detector", schema.ModelKind)
	e.f.Assign(e.project, model, schema.AnnotatorRole, 1.0)

	confidence := 0.75
	_, err := consensus.SubmitAnswer(e.db, model, target, consensus.Input{Value: "yes", Confidence: &confidence}, time.Now())
	assert.ErrorIs(t, err, schema.ErrRoleCapabilityMissing)

	e.f.Assign(e.project, model, schema.ModelRole, 1.0)
	answer, err := consensus.SubmitAnswer(e.db, model, target, consensus.Input{Value: "yes", Confidence: &confidence}, time.Now())
	require.NoError(t, err)
	require.NotNil(t, answer.Confidence)
	assert.Equal(t, 0.75, *answer.Confidence)
}

func TestGroundTruthLifecycle(t *testing.T) {
	e := setup(t)
	alice := e.member("alice", schema.AnnotatorRole, 1.0)
	bob := e.member("bob", schema.ReviewerRole, 1.0)
	target := e.target(t, "camera moving?")

	_, err := consensus.SubmitGroundTruth(e.db, alice, target, consensus.Input{Value: "yes"}, time.Now())
	assert.ErrorIs(t, err, schema.ErrRoleCapabilityMissing)

	_, err = consensus.SubmitGroundTruth(e.db, bob, target, consensus.Input{Value: "no"}, time.Now())
	require.NoError(t, err)

	state, err := consensus.StateOf(e.db, target)
	require.NoError(t, err)
	assert.Equal(t, consensus.GroundTruthed, state)

	_, err = consensus.SubmitGroundTruth(e.db, e.admin, target, consensus.Input{Value: "yes"}, time.Now())
	assert.ErrorIs(t, err, schema.ErrDuplicateGroundTruth)

	_, err = consensus.OverrideGroundTruth(e.db, bob, target, "yes", time.Now())
	assert.ErrorIs(t, err, schema.ErrRoleCapabilityMissing)

	gt, err := consensus.OverrideGroundTruth(e.db, e.admin, target, "yes", time.Now())
	require.NoError(t, err)
	require.NotNil(t, gt.OriginalAnswerValue)
	assert.Equal(t, "no", *gt.OriginalAnswerValue)
	assert.Equal(t, "yes", gt.AnswerValue)

	gt, err = consensus.OverrideGroundTruth(e.db, e.admin, target, "unsure", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "no", *gt.OriginalAnswerValue)
	assert.Equal(t, "unsure", gt.AnswerValue)

	view, err := consensus.GetGroundTruth(e.db, target)
	require.NoError(t, err)
	assert.Equal(t, consensus.AdminOverridden, view.State)
	assert.Equal(t, "bob", view.Reviewer)
	assert.Equal(t, "root", view.OverriddenBy)

	_, err = consensus.UpdateGroundTruth(e.db, bob, target, consensus.Input{Value: "no"}, time.Now())
	assert.ErrorIs(t, err, schema.ErrRoleCapabilityMissing)

	var count int64
	require.NoError(t, e.db.Model(&schema.ReviewerGroundTruth{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSetGroundTruthUpdatesExisting(t *testing.T) {
	e := setup(t)
	bob := e.member("bob", schema.ReviewerRole, 1.0)
	carol := e.member("carol", schema.ReviewerRole, 1.0)
	target := e.target(t, "camera moving?")

	first, err := consensus.SetGroundTruth(e.db, bob, target, consensus.Input{Value: "no"}, time.Now())
	require.NoError(t, err)

	second, err := consensus.SetGroundTruth(e.db, carol, target, consensus.Input{Value: "yes"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, carol.Id, second.ReviewerId)
	assert.Equal(t, "yes", second.AnswerValue)
	assert.Nil(t, second.OriginalAnswerValue)
}

func TestConcurrentFirstGroundTruth(t *testing.T) {
	e := setup(t)
	reviewers := []schema.User{
		e.member("bob", schema.ReviewerRole, 1.0),
		e.member("carol", schema.ReviewerRole, 1.0),
	}
	target := e.target(t, "camera moving?")

	var mu sync.Mutex
	errs := make([]error, 0, len(reviewers))

	var g errgroup.Group
	for _, reviewer := range reviewers {
		g.Go(func() error {
			err := e.db.Transaction(func(txn *gorm.DB) error {
				_, err := consensus.SubmitGroundTruth(txn, reviewer, target, consensus.Input{Value: "yes"}, time.Now())
				return err
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	successes, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, schema.ErrDuplicateGroundTruth):
			duplicates++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, duplicates)
}

// insertRivalGroundTruth registers a callback that creates rival's ground
// truth for target as soon as a ground truth lookup comes back empty, so the
// caller's insert passes its existence check and then hits the unique index.
func insertRivalGroundTruth(t *testing.T, db *gorm.DB, rival schema.User, target consensus.Target) {
	fired := false
	err := db.Callback().Query().After("gorm:query").Register("test:rival_ground_truth", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "reviewer_ground_truths" || !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return
		}
		fired = true
		now := time.Now()
		row := schema.ReviewerGroundTruth{
			Id:          uuid.New(),
			VideoId:     target.Video.Id,
			QuestionId:  target.Question.Id,
			ProjectId:   target.Project.Id,
			ReviewerId:  rival.Id,
			AnswerValue: "no",
			CreatedAt:   now,
			ModifiedAt:  now,
		}
		conn := tx.Session(&gorm.Session{NewDB: true})
		conn.Error = nil
		require.NoError(t, conn.Create(&row).Error)
	})
	require.NoError(t, err)
}

func TestLosingFirstGroundTruthRetriesAsUpdate(t *testing.T) {
	e := setup(t)
	bob := e.member("bob", schema.ReviewerRole, 1.0)
	carol := e.member("carol", schema.ReviewerRole, 1.0)
	target := e.target(t, "camera moving?")

	insertRivalGroundTruth(t, e.db, carol, target)

	var gt schema.ReviewerGroundTruth
	err := e.db.Transaction(func(txn *gorm.DB) error {
		var err error
		gt, err = consensus.SetGroundTruth(txn, bob, target, consensus.Input{Value: "yes"}, time.Now())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "yes", gt.AnswerValue)
	assert.Equal(t, bob.Id, gt.ReviewerId)

	stored, err := schema.GetGroundTruth(e.db, target.Video.Id, target.Question.Id, target.Project.Id)
	require.NoError(t, err)
	assert.Equal(t, "yes", stored.AnswerValue)
	assert.Equal(t, bob.Id, stored.ReviewerId)
}

func TestLosingFirstGroundTruthIsDuplicate(t *testing.T) {
	e := setup(t)
	bob := e.member("bob", schema.ReviewerRole, 1.0)
	carol := e.member("carol", schema.ReviewerRole, 1.0)
	target := e.target(t, "camera moving?")

	insertRivalGroundTruth(t, e.db, carol, target)

	err := e.db.Transaction(func(txn *gorm.DB) error {
		_, err := consensus.SubmitGroundTruth(txn, bob, target, consensus.Input{Value: "yes"}, time.Now())
		require.ErrorIs(t, err, schema.ErrDuplicateGroundTruth)

		gt, err := schema.GetGroundTruth(txn, target.Video.Id, target.Question.Id, target.Project.Id)
		require.NoError(t, err)
		assert.Equal(t, carol.Id, gt.ReviewerId)
		return nil
	})
	require.NoError(t, err)
}

func TestWeightedVote(t *testing.T) {
	question := schema.Question{Type: schema.SingleChoice, Options: []string{"yes", "no"}, OptionWeights: []float64{1.0, 1.0}}

	votes := []consensus.Vote{
		{User: "a", Weight: 1.0, Value: "yes"},
		{User: "b", Weight: 1.0, Value: "yes"},
		{User: "c", Weight: 2.0, Value: "yes"},
	}

	suggestion := consensus.WeightedVote(question, votes, 3.0)
	assert.True(t, suggestion.Candidate)
	assert.Equal(t, "yes", suggestion.Value)
	assert.Equal(t, 4.0, suggestion.Score)

	suggestion = consensus.WeightedVote(question, votes, 4.0)
	assert.False(t, suggestion.Candidate, "score must exceed the threshold")

	dissent := append(votes, consensus.Vote{User: "d", Weight: 1.0, Value: "no"})
	suggestion = consensus.WeightedVote(question, dissent, 3.0)
	assert.False(t, suggestion.Candidate)
	assert.False(t, suggestion.Unanimous)
	assert.Equal(t, 1.0, suggestion.Scores["no"])

	free := consensus.WeightedVote(schema.Question{Type: schema.FreeText}, votes, 0)
	assert.False(t, free.Candidate)
}

func TestSuggestFromSelectedAnnotators(t *testing.T) {
	e := setup(t)
	target := e.target(t, "camera moving?")

	weights := map[string]float64{"a1": 1.0, "a2": 1.0, "a3": 2.0, "a4": 1.0}
	values := map[string]string{"a1": "yes", "a2": "yes", "a3": "yes", "a4": "no"}
	for _, uid := range []string{"a1", "a2", "a3", "a4"} {
		user := e.member(uid, schema.AnnotatorRole, weights[uid])
		_, err := consensus.SubmitAnswer(e.db, user, target, consensus.Input{Value: values[uid]}, time.Now())
		require.NoError(t, err)
	}

	suggestion, err := consensus.Suggest(e.db, target, []string{"a1", "a2", "a3"}, 3.0)
	require.NoError(t, err)
	assert.True(t, suggestion.Candidate)
	assert.Equal(t, "yes", suggestion.Value)
	assert.Equal(t, 4.0, suggestion.Score)

	suggestion, err = consensus.Suggest(e.db, target, []string{"a1", "a2", "a3", "a4"}, 3.0)
	require.NoError(t, err)
	assert.False(t, suggestion.Candidate)

	e.member("a5", schema.AnnotatorRole, 5.0)
	suggestion, err = consensus.Suggest(e.db, target, []string{"a1", "a2", "a3", "a5"}, 3.0)
	require.NoError(t, err)
	assert.False(t, suggestion.Candidate)
	assert.Equal(t, []string{"a5"}, suggestion.Missing)

	state, err := consensus.StateOf(e.db, target)
	require.NoError(t, err)
	assert.Equal(t, consensus.Annotated, state, "suggestions never create ground truth")
}

func (e *env) configureGroup(t *testing.T, autoSubmit bool, verification string) {
	updates := map[string]interface{}{"is_auto_submit": autoSubmit, "verification_function": verification}
	require.NoError(t, e.db.Model(&schema.QuestionGroup{}).Where("title = ?", "Camera").Updates(updates).Error)
}

func TestSuggestNeedsAutoSubmitGroup(t *testing.T) {
	e := setup(t)
	e.configureGroup(t, false, "")
	target := e.target(t, "camera moving?")

	a1 := e.member("a1", schema.AnnotatorRole, 2.0)
	_, err := consensus.SubmitAnswer(e.db, a1, target, consensus.Input{Value: "yes"}, time.Now())
	require.NoError(t, err)

	suggestion, err := consensus.Suggest(e.db, target, []string{"a1"}, 1.0)
	require.NoError(t, err)
	assert.False(t, suggestion.Candidate)
	assert.Empty(t, suggestion.Value)
	assert.Equal(t, 2.0, suggestion.Scores["yes"])
	assert.Contains(t, suggestion.Reason, "not auto-submit")
}

func TestVerificationFunctionGuardsValues(t *testing.T) {
	e := setup(t)
	e.configureGroup(t, true, "non_empty_text")
	a1 := e.member("a1", schema.AnnotatorRole, 1.0)

	text := e.target(t, "describe the scene")
	_, err := consensus.SubmitAnswer(e.db, a1, text, consensus.Input{Value: "   "}, time.Now())
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)
	_, err = consensus.SubmitAnswer(e.db, a1, text, consensus.Input{Value: "a dog on a beach"}, time.Now())
	assert.NoError(t, err)

	require.NoError(t, schema.RegisterVerification("only_yes", func(question schema.Question, value string) error {
		if question.Type == schema.SingleChoice && value != "yes" {
			return errors.New("only 'yes' is accepted")
		}
		return nil
	}))
	assert.Error(t, schema.RegisterVerification("only_yes", nil))
	assert.NoError(t, schema.CheckVerificationFunction("only_yes"))
	assert.Error(t, schema.CheckVerificationFunction("missing_rule"))
	assert.Contains(t, schema.VerificationFunctions(), "not_default")

	e.configureGroup(t, true, "only_yes")
	single := e.target(t, "camera moving?")
	_, err = consensus.SubmitAnswer(e.db, a1, single, consensus.Input{Value: "no"}, time.Now())
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)
	_, err = consensus.SubmitAnswer(e.db, a1, single, consensus.Input{Value: "yes"}, time.Now())
	require.NoError(t, err)

	suggestion, err := consensus.Suggest(e.db, single, []string{"a1"}, 0.5)
	require.NoError(t, err)
	assert.True(t, suggestion.Candidate)
	assert.Equal(t, "yes", suggestion.Value)
}

func TestAccuracy(t *testing.T) {
	e := setup(t)
	alice := e.member("alice", schema.AnnotatorRole, 1.0)
	bob := e.member("bob", schema.ReviewerRole, 1.0)

	v2 := e.f.Video("v2")
	require.NoError(t, e.db.Create(&schema.ProjectVideo{ProjectId: e.project.Id, VideoId: v2.Id}).Error)

	now := time.Now()
	for _, video := range []string{"v1", "v2"} {
		target, err := consensus.LoadTarget(e.db, "p1", video, "camera moving?")
		require.NoError(t, err)
		_, err = consensus.SubmitAnswer(e.db, alice, target, consensus.Input{Value: "yes"}, now)
		require.NoError(t, err)
		_, err = consensus.SubmitGroundTruth(e.db, bob, target, consensus.Input{Value: "yes"}, now)
		require.NoError(t, err)
	}

	v2Target, err := consensus.LoadTarget(e.db, "p1", "v2", "camera moving?")
	require.NoError(t, err)
	_, err = consensus.OverrideGroundTruth(e.db, e.admin, v2Target, "no", now)
	require.NoError(t, err)

	textTarget := e.target(t, "describe the scene")
	_, err = consensus.SubmitAnswer(e.db, alice, textTarget, consensus.Input{Value: "a car drives by"}, now)
	require.NoError(t, err)

	_, err = consensus.ReviewAnswer(e.db, bob, e.target(t, "camera moving?"), "alice", schema.ReviewApproved, "", now)
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)

	_, err = consensus.ReviewAnswer(e.db, bob, textTarget, "alice", schema.ReviewPending, "", now)
	require.NoError(t, err)

	acc, err := consensus.AnnotatorAccuracyOf(e.db, e.project.Id, alice.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.SingleChoice.Correct)
	assert.Equal(t, 2, acc.SingleChoice.Total)
	assert.Equal(t, 0, acc.FreeText.Total, "pending reviews are not judged")
	assert.Nil(t, acc.FreeText.Ratio)

	_, err = consensus.ReviewAnswer(e.db, bob, textTarget, "alice", schema.ReviewApproved, "good", now)
	require.NoError(t, err)

	acc, err = consensus.AnnotatorAccuracyOf(e.db, e.project.Id, alice.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.FreeText.Correct)
	assert.Equal(t, 1, acc.FreeText.Total)

	reviewer, err := consensus.ReviewerAccuracy(e.db, e.project.Id, bob.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, reviewer.Correct)
	assert.Equal(t, 2, reviewer.Total)
	require.NotNil(t, reviewer.Ratio)
	assert.Equal(t, 0.5, *reviewer.Ratio)

	all, err := consensus.ProjectAccuracy(e.db, e.project.Id)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	progress, err := consensus.ProjectProgress(e.db, e.project.Id)
	require.NoError(t, err)
	assert.Equal(t, 4, progress.Total)
	assert.Equal(t, 2, progress.GroundTruthed)
	assert.Equal(t, 1, progress.Overridden)
}

func TestCustomDisplay(t *testing.T) {
	e := setup(t)
	target := e.target(t, "camera moving?")

	_, err := consensus.SetCustomDisplay(e.db, target, consensus.Display{OptionDisplay: map[string]string{"maybe": "?"}})
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)

	_, err = consensus.SetCustomDisplay(e.db, target, consensus.Display{Text: "Is the camera panning?", OptionDisplay: map[string]string{"yes": "Panning"}})
	require.NoError(t, err)

	display, err := consensus.EffectiveDisplay(e.db, target)
	require.NoError(t, err)
	assert.Equal(t, "Is the camera panning?", display.Text)
	assert.Equal(t, "Panning", display.OptionDisplay["yes"])
	assert.Equal(t, "no", display.OptionDisplay["no"])

	require.NoError(t, consensus.ClearCustomDisplay(e.db, target))
	display, err = consensus.EffectiveDisplay(e.db, target)
	require.NoError(t, err)
	assert.Equal(t, "camera moving?", display.Text)
	assert.ErrorIs(t, consensus.ClearCustomDisplay(e.db, target), schema.ErrNotFound)

	plain := e.f.Schema("plain", false, e.f.Group("Other", true, e.f.SingleChoice("q2", []string{"a"}, nil)))
	e.f.Project("p2", plain, e.video)
	other, err := consensus.LoadTarget(e.db, "p2", "v1", "q2")
	require.NoError(t, err)
	_, err = consensus.SetCustomDisplay(e.db, other, consensus.Display{Text: "x"})
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)
}
