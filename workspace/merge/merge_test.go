package merge_test

import (
	"path/filepath"
	"testing"

	"label_pizza/workspace/keys"
	"label_pizza/workspace/merge"
	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"
	"label_pizza/workspace/syncer"
	"label_pizza/workspace/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weight(w float64) *float64 {
	return &w
}

func assignment(user, project, role string, w float64) records.AssignmentRecord {
	return records.AssignmentRecord{UserName: user, ProjectName: project, Role: role, UserWeight: weight(w)}
}

func TestMergeByCompositeKey(t *testing.T) {
	left := []records.AssignmentRecord{
		assignment("alice", "p1", schema.AnnotatorRole, 1),
		assignment("bob", "p1", schema.ReviewerRole, 1),
		assignment("carol", "p1", schema.AnnotatorRole, 1),
	}
	right := []records.AssignmentRecord{
		assignment("alice", "p1", schema.AnnotatorRole, 1),
		assignment("bob", "p1", schema.ReviewerRole, 3),
		assignment("bob", "p1", schema.AnnotatorRole, 1),
	}

	merged, report, err := merge.Merge(records.Assignments, left, right, merge.Right)
	require.NoError(t, err)

	got := make([]keys.Key, 0, len(merged))
	for _, rec := range merged {
		got = append(got, rec.Key())
	}
	assert.Equal(t, []keys.Key{
		keys.New("alice", "p1", schema.AnnotatorRole),
		keys.New("bob", "p1", schema.AnnotatorRole),
		keys.New("bob", "p1", schema.ReviewerRole),
		keys.New("carol", "p1", schema.AnnotatorRole),
	}, got)
	assert.Equal(t, 3.0, merged[2].Weight())

	assert.Equal(t, 3, report.LeftSize)
	assert.Equal(t, 3, report.RightSize)
	assert.Equal(t, 4, report.MergedSize)
	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, []keys.Key{keys.New("bob", "p1", schema.ReviewerRole)}, report.ConflictKeys)
	assert.Equal(t, merge.Right, report.Precedence)
}

func TestMergeIgnoresDefaultedFields(t *testing.T) {
	yes := true
	left := []records.VideoRecord{{VideoUid: "v1", Url: "u1"}}
	right := []records.VideoRecord{{VideoUid: "v1", Url: "u1", IsActive: &yes}}

	merged, report, err := merge.Merge(records.Videos, left, right, merge.Left)
	require.NoError(t, err)
	assert.Len(t, merged, 1)
	assert.Equal(t, 0, report.Conflicts)
}

func TestMergeIsDeterministic(t *testing.T) {
	a := []records.VideoRecord{
		{VideoUid: "v3", Url: "a3"},
		{VideoUid: "v1", Url: "a1"},
		{VideoUid: "v2", Url: "shared"},
	}
	b := []records.VideoRecord{
		{VideoUid: "v2", Url: "shared"},
		{VideoUid: "v1", Url: "b1"},
		{VideoUid: "v4", Url: "b4"},
	}

	ab, reportAB, err := merge.Merge(records.Videos, a, b, merge.Left)
	require.NoError(t, err)
	ba, reportBA, err := merge.Merge(records.Videos, b, a, merge.Right)
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Equal(t, reportAB.Conflicts, reportBA.Conflicts)
	assert.Equal(t, reportAB.ConflictKeys, reportBA.ConflictKeys)
	assert.Equal(t, "a1", ab[0].Url)
	assert.Len(t, ab, 4)
}

func TestMergeRejectsInconsistentInput(t *testing.T) {
	left := []records.VideoRecord{{VideoUid: "v1", Url: "u1"}, {VideoUid: "v1", Url: "u2"}}

	_, _, err := merge.Merge(records.Videos, left, nil, merge.Left)
	assert.ErrorIs(t, err, schema.ErrConflict)

	_, _, err = merge.Merge[records.VideoRecord](records.Videos, nil, nil, merge.Side("middle"))
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	left := []records.ProjectRecord{
		{ProjectName: "p1", SchemaName: "s1", Videos: []string{"v1", "v2"}},
		{ProjectName: "p2", SchemaName: "s1", Videos: []string{"v1"}},
		{ProjectName: "p3", SchemaName: "s1"},
	}
	right := []records.ProjectRecord{
		{ProjectName: "p1", SchemaName: "s1", Videos: []string{"v2", "v1"}},
		{ProjectName: "p2", SchemaName: "s2", Description: "moved", Videos: []string{"v1"}},
		{ProjectName: "p4", SchemaName: "s1"},
	}

	report, err := merge.Compare(records.Projects, left, right)
	require.NoError(t, err)

	assert.False(t, report.Identical)
	assert.Equal(t, []keys.Key{keys.New("p3")}, report.LeftOnly)
	assert.Equal(t, []keys.Key{keys.New("p4")}, report.RightOnly)
	require.Len(t, report.Differing, 1)
	assert.Equal(t, keys.New("p2"), report.Differing[0].Key)
	assert.Equal(t, []string{"description", "schema_name"}, report.Differing[0].Fields)
	assert.Equal(t, merge.Summary{Left: 3, Right: 3, Same: 1, LeftOnly: 1, RightOnly: 1, Differing: 1}, report.Summary)

	report, err = merge.Compare(records.Projects, left, left)
	require.NoError(t, err)
	assert.True(t, report.Identical)
}

func TestMergeDirs(t *testing.T) {
	left, right, out := t.TempDir(), t.TempDir(), t.TempDir()

	require.NoError(t, records.WriteFile(filepath.Join(left, "videos.json"), []records.VideoRecord{{VideoUid: "v1", Url: "l"}}))
	require.NoError(t, records.WriteFile(filepath.Join(right, "videos.yaml"), []records.VideoRecord{{VideoUid: "v1", Url: "r"}, {VideoUid: "v2", Url: "r"}}))
	require.NoError(t, records.WriteFile(filepath.Join(right, "users.json"), []records.UserRecord{{UserId: "alice", Email: "a@example.com"}}))

	reports, err := merge.MergeDirs(left, right, merge.Left, out, "json")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, records.Videos, reports[0].Collection)
	assert.Equal(t, 1, reports[0].Conflicts)
	assert.Equal(t, 0, reports[1].LeftSize)

	videos, err := records.LoadFile[records.VideoRecord](filepath.Join(out, "videos.json"))
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "l", videos[0].Url)

	diffs, err := merge.CompareDirs(out, right)
	require.NoError(t, err)
	require.Len(t, diffs, 2)
	assert.False(t, diffs[0].Identical)
	assert.True(t, diffs[1].Identical)
}

func TestCompareStore(t *testing.T) {
	db := testutil.NewDb(t)
	s := syncer.New(db, syncer.Options{})

	_, err := s.SyncUsers([]records.UserRecord{{UserId: "alice", Email: "alice@example.com", Password: "secret"}})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, records.WriteFile(filepath.Join(dir, "users.json"), []records.UserRecord{
		{UserId: "alice", Email: "alice@example.com", Password: "secret"},
		{UserId: "bob", Email: "bob@example.com", Password: "secret"},
	}))

	reports, err := merge.CompareStoreDir(db, dir)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].Differing)
	assert.Empty(t, reports[0].LeftOnly)
	assert.Equal(t, []keys.Key{keys.New("bob")}, reports[0].RightOnly)
}
