package services_test

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"label_pizza/workspace/consensus"
	"label_pizza/workspace/schema"
	"label_pizza/workspace/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func targetQuery(endpoint, question string, extra url.Values) string {
	values := url.Values{"video": {"v1"}, "question": {question}}
	for k, v := range extra {
		values[k] = v
	}
	return endpoint + "?" + values.Encode()
}

type userInfo struct {
	UserId   string `json:"user_id"`
	UserType string `json:"user_type"`
}

func TestLogin(t *testing.T) {
	env := setupTestEnv(t, services.Options{})
	env.member(t, "alice")

	c := env.newClient()
	require.NoError(t, c.login(loginInfo{Identifier: adminUserId, Password: adminPassword}))
	require.NoError(t, c.login(loginInfo{Identifier: adminEmail, Password: adminPassword}))

	var info userInfo
	require.NoError(t, c.Get("/user/info").Do(&info))
	assert.Equal(t, adminUserId, info.UserId)
	assert.Equal(t, schema.AdminKind, info.UserType)

	err := c.login(loginInfo{Identifier: adminEmail, Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	err = c.login(loginInfo{Identifier: "nobody", Password: "wrong"})
	assert.Equal(t, http.StatusNotFound, statusOf(err))

	err = newHttpTestRequest(env.api, "GET", "/user/login").Do(nil)
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	alice := env.newClient()
	require.NoError(t, alice.login(loginInfo{Identifier: "alice@example.com", Password: env.password["alice"]}))
	require.NoError(t, alice.Get("/user/info").Do(&info))
	assert.Equal(t, "alice", info.UserId)
	assert.Equal(t, schema.HumanKind, info.UserType)

	anonymous := env.newClient()
	err = anonymous.Get("/user/info").Do(nil)
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	assert.Contains(t, env.audit.String(), `"user":"alice"`)
}

type syncResult struct {
	Collection string     `json:"collection"`
	Created    [][]string `json:"created"`
	Updated    [][]string `json:"updated"`
	Unchanged  int        `json:"unchanged"`
	Errors     []struct {
		Key   []string `json:"key"`
		Error string   `json:"error"`
	} `json:"errors"`
	DryRun bool `json:"dry_run"`
}

type videoRecord struct {
	VideoUid string `json:"video_uid"`
	Url      string `json:"url"`
}

func TestSyncAndExport(t *testing.T) {
	env := setupTestEnv(t, services.Options{})
	env.member(t, "alice", schema.AnnotatorRole)
	admin := env.adminClient(t)
	alice := env.login(t, "alice")

	body := []videoRecord{{VideoUid: "v2", Url: "https://videos.example.com/v2.mp4"}, {VideoUid: "v3"}}

	err := alice.Post("/sync/videos").Json(body).Do(nil)
	assert.Equal(t, http.StatusForbidden, statusOf(err))

	var result syncResult
	require.NoError(t, admin.Post("/sync/videos?dry_run=true").Json(body).Do(&result))
	assert.True(t, result.DryRun)
	assert.Equal(t, [][]string{{"v2"}}, result.Created)

	var videos []videoRecord
	require.NoError(t, admin.Get("/sync/videos").Do(&videos))
	assert.Len(t, videos, 1)

	require.NoError(t, admin.Post("/sync/videos").Json(body).Do(&result))
	assert.False(t, result.DryRun)
	assert.Equal(t, [][]string{{"v2"}}, result.Created)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, []string{"v3"}, result.Errors[0].Key)

	require.NoError(t, admin.Post("/sync/videos").Json(body[:1]).Do(&result))
	assert.Empty(t, result.Created)
	assert.Equal(t, 1, result.Unchanged)

	yamlBody := "- video_uid: v4\n  url: https://videos.example.com/v4.mp4\n"
	require.NoError(t, admin.Post("/sync/videos").Header("Content-Type", "application/yaml").Body(strings.NewReader(yamlBody)).Do(&result))
	assert.Equal(t, [][]string{{"v4"}}, result.Created)

	require.NoError(t, admin.Get("/sync/videos").Do(&videos))
	assert.Len(t, videos, 3)

	err = admin.Post("/sync/videos").Body(strings.NewReader("{not json")).Do(nil)
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	err = admin.Get("/sync/recipes").Do(nil)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

type planResponse struct {
	Entity string `json:"entity"`
	Steps  []struct {
		Entity string   `json:"entity"`
		Key    []string `json:"key"`
		Action string   `json:"action"`
	} `json:"steps"`
	Token string `json:"token"`
}

func TestCascadePlanAndExecute(t *testing.T) {
	env := setupTestEnv(t, services.Options{})
	alice := env.member(t, "alice", schema.AnnotatorRole)
	env.f.Answer(env.project, env.video, env.single, alice, "yes")
	admin := env.adminClient(t)

	request := map[string]interface{}{"entity": "assignment", "key": []string{"alice", "p1", "annotator"}}

	var plan planResponse
	require.NoError(t, admin.Post("/cascade/plan").Json(request).Do(&plan))
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, string(schema.AnswerEntity), plan.Steps[0].Entity)
	assert.NotEmpty(t, plan.Token)

	err := admin.Post("/cascade/execute").Json(request).Do(nil)
	assert.Equal(t, http.StatusPreconditionFailed, statusOf(err))

	request["token"] = "stale"
	err = admin.Post("/cascade/execute").Json(request).Do(nil)
	assert.Equal(t, http.StatusPreconditionFailed, statusOf(err))

	var answers int64
	require.NoError(t, env.db.Model(&schema.AnnotatorAnswer{}).Count(&answers).Error)
	assert.EqualValues(t, 1, answers)

	request["token"] = plan.Token
	require.NoError(t, admin.Post("/cascade/execute").Json(request).Do(nil))

	require.NoError(t, env.db.Model(&schema.AnnotatorAnswer{}).Count(&answers).Error)
	assert.EqualValues(t, 0, answers)

	assignment, err := schema.GetAssignment(env.db, env.project.Id, alice.Id, schema.AnnotatorRole)
	require.NoError(t, err)
	assert.False(t, assignment.IsActive)

	err = admin.Post("/cascade/plan").Json(map[string]interface{}{"entity": "assignment", "key": []string{"alice"}}).Do(nil)
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	err = admin.Post("/cascade/plan").Json(map[string]interface{}{"entity": "video", "key": []string{"missing"}}).Do(nil)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestSchemaChangeAndRename(t *testing.T) {
	env := setupTestEnv(t, services.Options{})
	alice := env.member(t, "alice", schema.AnnotatorRole)
	env.f.Answer(env.project, env.video, env.single, alice, "yes")
	admin := env.adminClient(t)

	var plan planResponse
	require.NoError(t, admin.Post("/cascade/schema-change/plan").Json(map[string]string{"project": "p1", "schema": "s2"}).Do(&plan))
	require.Len(t, plan.Steps, 1)

	err := admin.Post("/cascade/schema-change/plan").Json(map[string]string{"project": "p1", "schema": "s1"}).Do(nil)
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	require.NoError(t, admin.Post("/cascade/schema-change/execute").Json(map[string]string{"project": "p1", "schema": "s2", "token": plan.Token}).Do(nil))

	project, err := schema.GetProject(env.db, "p1", false)
	require.NoError(t, err)
	s2, err := schema.GetSchema(env.db, "s2", false)
	require.NoError(t, err)
	assert.Equal(t, s2.Id, project.SchemaId)

	require.NoError(t, admin.Post("/cascade/rename").Json(map[string]string{"entity": "video", "old_key": "v1", "new_key": "v1-renamed"}).Do(nil))
	video, err := schema.GetVideo(env.db, "v1-renamed")
	require.NoError(t, err)
	assert.Equal(t, env.video.Id, video.Id)

	err = admin.Post("/cascade/rename").Json(map[string]string{"entity": "video", "old_key": "v1", "new_key": "v2"}).Do(nil)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestAnswerAndGroundTruthFlow(t *testing.T) {
	env := setupTestEnv(t, services.Options{})
	env.member(t, "alice", schema.AnnotatorRole)
	env.member(t, "bob", schema.ReviewerRole)
	env.member(t, "carol")

	admin := env.adminClient(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	carol := env.login(t, "carol")

	answer := map[string]string{"video": "v1", "question": "camera moving?", "value": "yes"}

	var state struct {
		State consensus.State `json:"state"`
	}
	require.NoError(t, alice.Post("/project/p1/answers").Json(answer).Do(&state))
	assert.Equal(t, consensus.Annotated, state.State)

	err := carol.Post("/project/p1/answers").Json(answer).Do(nil)
	assert.Equal(t, http.StatusForbidden, statusOf(err))

	err = alice.Post("/project/p1/answers").Json(map[string]string{"video": "v1", "question": "camera moving?", "value": "maybe"}).Do(nil)
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	err = alice.Post("/project/missing/answers").Json(answer).Do(nil)
	assert.Equal(t, http.StatusNotFound, statusOf(err))

	var answers []consensus.AnswerView
	err = alice.Get(targetQuery("/project/p1/answers", "camera moving?", nil)).Do(&answers)
	assert.Equal(t, http.StatusForbidden, statusOf(err))

	require.NoError(t, bob.Get(targetQuery("/project/p1/answers", "camera moving?", nil)).Do(&answers))
	require.Len(t, answers, 1)
	assert.Equal(t, "alice", answers[0].User)
	assert.Equal(t, "yes", answers[0].Value)

	err = bob.Get("/project/p1/ground-truth?video=v1").Do(nil)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	err = bob.Get(targetQuery("/project/p1/ground-truth", "camera moving?", nil)).Do(nil)
	assert.Equal(t, http.StatusNotFound, statusOf(err))

	var gt consensus.GroundTruthView
	require.NoError(t, bob.Post("/project/p1/ground-truth").Json(answer).Do(&gt))
	assert.Equal(t, consensus.GroundTruthed, gt.State)
	assert.Equal(t, "bob", gt.Reviewer)

	err = bob.Post("/project/p1/ground-truth/override").Json(map[string]string{"video": "v1", "question": "camera moving?", "value": "no"}).Do(nil)
	assert.Equal(t, http.StatusForbidden, statusOf(err))

	require.NoError(t, admin.Post("/project/p1/ground-truth/override").Json(map[string]string{"video": "v1", "question": "camera moving?", "value": "no"}).Do(&gt))
	assert.Equal(t, consensus.AdminOverridden, gt.State)
	assert.Equal(t, "no", gt.Value)
	require.NotNil(t, gt.OriginalValue)
	assert.Equal(t, "yes", *gt.OriginalValue)
	assert.Equal(t, adminUserId, gt.OverriddenBy)

	require.NoError(t, alice.Get(targetQuery("/project/p1/ground-truth", "camera moving?", nil)).Do(&gt))
	assert.Equal(t, "no", gt.Value)

	var progress consensus.Progress
	require.NoError(t, alice.Get("/project/p1/progress").Do(&progress))
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 1, progress.GroundTruthed)
	assert.Equal(t, 1, progress.Overridden)

	var accuracy []consensus.UserAccuracy
	require.NoError(t, bob.Get("/project/p1/accuracy").Do(&accuracy))
	require.Len(t, accuracy, 2)
	for _, entry := range accuracy {
		if entry.User == "bob" {
			require.NotNil(t, entry.Reviewer)
			assert.Equal(t, 1, entry.Reviewer.Total)
			assert.Equal(t, 0, entry.Reviewer.Correct)
		}
	}
}

func TestSuggestion(t *testing.T) {
	env := setupTestEnv(t, services.Options{})
	alice := env.member(t, "alice", schema.AnnotatorRole)
	dave := env.member(t, "dave", schema.AnnotatorRole)
	env.member(t, "bob", schema.ReviewerRole)
	env.f.Answer(env.project, env.video, env.single, alice, "yes")
	env.f.Answer(env.project, env.video, env.single, dave, "yes")
	bob := env.login(t, "bob")

	var suggestion consensus.Suggestion
	query := targetQuery("/project/p1/suggestion", "camera moving?", url.Values{"users": {"alice,dave"}, "threshold": {"1.5"}})
	require.NoError(t, bob.Get(query).Do(&suggestion))
	assert.True(t, suggestion.Candidate)
	assert.Equal(t, "yes", suggestion.Value)
	assert.InDelta(t, 2.0, suggestion.Score, 1e-9)

	query = targetQuery("/project/p1/suggestion", "camera moving?", url.Values{"users": {"alice,dave"}, "threshold": {"2.5"}})
	require.NoError(t, bob.Get(query).Do(&suggestion))
	assert.False(t, suggestion.Candidate)

	err := bob.Get(targetQuery("/project/p1/suggestion", "camera moving?", nil)).Do(nil)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestReviewsAndDisplay(t *testing.T) {
	env := setupTestEnv(t, services.Options{})
	alice := env.member(t, "alice", schema.AnnotatorRole)
	env.member(t, "bob", schema.ReviewerRole)
	env.f.Answer(env.project, env.video, env.text, alice, "a rainy street")
	env.f.Answer(env.project, env.video, env.single, alice, "yes")
	admin := env.adminClient(t)
	aliceClient := env.login(t, "alice")
	bob := env.login(t, "bob")

	review := map[string]string{"video": "v1", "question": "describe the scene", "annotator": "alice", "status": "approved"}
	require.NoError(t, bob.Post("/project/p1/reviews").Json(review).Do(nil))

	var reviews int64
	require.NoError(t, env.db.Model(&schema.AnswerReview{}).Count(&reviews).Error)
	assert.EqualValues(t, 1, reviews)

	review["question"] = "camera moving?"
	err := bob.Post("/project/p1/reviews").Json(review).Do(nil)
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	display := map[string]interface{}{
		"video":          "v1",
		"question":       "camera moving?",
		"display_text":   "Is the camera moving?",
		"option_display": map[string]string{"yes": "Moving"},
	}
	err = aliceClient.Put("/project/p1/display").Json(display).Do(nil)
	assert.Equal(t, http.StatusForbidden, statusOf(err))

	require.NoError(t, admin.Put("/project/p1/display").Json(display).Do(nil))

	var shown consensus.Display
	require.NoError(t, aliceClient.Get(targetQuery("/project/p1/display", "camera moving?", nil)).Do(&shown))
	assert.Equal(t, "Is the camera moving?", shown.Text)
	assert.Equal(t, map[string]string{"yes": "Moving", "no": "no"}, shown.OptionDisplay)

	require.NoError(t, admin.Delete(targetQuery("/project/p1/display", "camera moving?", nil)).Do(nil))
	require.NoError(t, aliceClient.Get(targetQuery("/project/p1/display", "camera moving?", nil)).Do(&shown))
	assert.Equal(t, "camera moving?", shown.Text)

	err = admin.Delete(targetQuery("/project/p1/display", "camera moving?", nil)).Do(nil)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestMergeAndCompare(t *testing.T) {
	env := setupTestEnv(t, services.Options{})
	admin := env.adminClient(t)

	states := map[string]interface{}{
		"left":       []videoRecord{{VideoUid: "v1", Url: "left"}, {VideoUid: "v2", Url: "same"}},
		"right":      []videoRecord{{VideoUid: "v1", Url: "right"}, {VideoUid: "v2", Url: "same"}, {VideoUid: "v3", Url: "new"}},
		"precedence": "right",
	}

	var merged struct {
		Records []videoRecord `json:"records"`
		Report  struct {
			Conflicts  int `json:"conflicts"`
			MergedSize int `json:"merged_size"`
		} `json:"report"`
	}
	require.NoError(t, admin.Post("/state/merge/videos").Json(states).Do(&merged))
	assert.Equal(t, 1, merged.Report.Conflicts)
	assert.Equal(t, 3, merged.Report.MergedSize)
	require.Len(t, merged.Records, 3)
	assert.Equal(t, "right", merged.Records[0].Url)

	states["precedence"] = "middle"
	err := admin.Post("/state/merge/videos").Json(states).Do(nil)
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	var diff struct {
		Identical bool       `json:"identical"`
		RightOnly [][]string `json:"right_only"`
	}
	require.NoError(t, admin.Post("/state/compare/videos").Json(states).Do(&diff))
	assert.False(t, diff.Identical)
	assert.Equal(t, [][]string{{"v3"}}, diff.RightOnly)

	var stored []videoRecord
	require.NoError(t, admin.Get("/sync/videos").Do(&stored))
	require.NoError(t, admin.Post("/state/compare-store/videos").Json(stored).Do(&diff))
	assert.True(t, diff.Identical)
}

func TestRateLimit(t *testing.T) {
	env := setupTestEnv(t, services.Options{RateLimitPerMin: 2})
	c := env.newClient()

	require.NoError(t, c.login(loginInfo{Identifier: adminUserId, Password: adminPassword}))
	require.NoError(t, c.login(loginInfo{Identifier: adminUserId, Password: adminPassword}))

	err := c.login(loginInfo{Identifier: adminUserId, Password: adminPassword})
	assert.Equal(t, http.StatusTooManyRequests, statusOf(err))
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestEnv(t, services.Options{})
	c := env.newClient()

	require.NoError(t, c.Get("/health").Do(nil))
	require.NoError(t, c.Get("/metrics").Do(nil))
}
