package cascade

import (
	"fmt"

	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	videoNode         nodeType = "video"
	userNode          nodeType = "user"
	questionNode      nodeType = "question"
	questionGroupNode nodeType = "question_group"
	schemaNode        nodeType = "schema"
	projectNode       nodeType = "project"
	projectGroupNode  nodeType = "project_group"
	assignmentNode    nodeType = "assignment"
	annotatorRoleNode nodeType = "assignment:annotator"
	modelRoleNode     nodeType = "assignment:model"
	reviewerRoleNode  nodeType = "assignment:reviewer"
	adminRoleNode     nodeType = "assignment:admin"
	answerNode        nodeType = "annotator_answer"
	answerReviewNode  nodeType = "answer_review"
	groundTruthNode   nodeType = "ground_truth"
	customDisplayNode nodeType = "custom_display"
	projectSchemaNode nodeType = "project:schema"
	userRoleKindNode  nodeType = "user:role_kind"
)

func roleNode(role string) nodeType {
	return nodeType(string(assignmentNode) + ":" + role)
}

func models[T any]() func() interface{} {
	return func() interface{} { return new(T) }
}

// Shared node declarations. Declaration order is the tiebreak for the
// topological sort.
var (
	videoDef         = node{videoNode, schema.VideoEntity, models[schema.Video](), Archive}
	userDef          = node{userNode, schema.UserEntity, models[schema.User](), Archive}
	questionDef      = node{questionNode, schema.QuestionEntity, models[schema.Question](), Archive}
	questionGroupDef = node{questionGroupNode, schema.QuestionGroupEntity, models[schema.QuestionGroup](), Archive}
	schemaDef        = node{schemaNode, schema.SchemaEntity, models[schema.Schema](), Archive}
	projectDef       = node{projectNode, schema.ProjectEntity, models[schema.Project](), Archive}
	projectGroupDef  = node{projectGroupNode, schema.ProjectGroupEntity, models[schema.ProjectGroup](), Archive}
	assignmentDef    = node{assignmentNode, schema.AssignmentEntity, models[schema.ProjectUserRole](), Archive}
	annotatorRoleDef = node{annotatorRoleNode, schema.AssignmentEntity, models[schema.ProjectUserRole](), Archive}
	modelRoleDef     = node{modelRoleNode, schema.AssignmentEntity, models[schema.ProjectUserRole](), Archive}
	reviewerRoleDef  = node{reviewerRoleNode, schema.AssignmentEntity, models[schema.ProjectUserRole](), Archive}
	adminRoleDef     = node{adminRoleNode, schema.AssignmentEntity, models[schema.ProjectUserRole](), Archive}
	answerDef        = node{answerNode, schema.AnswerEntity, models[schema.AnnotatorAnswer](), Delete}
	answerReviewDef  = node{answerReviewNode, schema.AnswerReviewEntity, models[schema.AnswerReview](), Delete}
	groundTruthDef   = node{groundTruthNode, schema.GroundTruthEntity, models[schema.ReviewerGroundTruth](), Delete}
	customDisplayDef = node{customDisplayNode, schema.CustomDisplayEntity, models[schema.CustomDisplay](), Archive}
	projectSchemaDef = node{projectSchemaNode, schema.ProjectEntity, models[schema.Project](), ""}
	userRoleKindDef  = node{userRoleKindNode, schema.UserEntity, models[schema.User](), ""}
)

// removalGraph governs archival of entities and revocation of roles. Parent
// archival only archives children; rows are deleted or reverted only when a
// role is revoked or an answer-level row is removed.
var removalGraph = mustGraph(
	[]node{
		videoDef, userDef, questionDef, questionGroupDef, schemaDef, projectDef, projectGroupDef,
		assignmentDef, annotatorRoleDef, modelRoleDef, reviewerRoleDef, adminRoleDef,
		answerDef, answerReviewDef, groundTruthDef, customDisplayDef,
	},
	[]edge{
		{videoNode, customDisplayNode, Archive, activeByColumn[schema.CustomDisplay]("video_id")},
		{userNode, assignmentNode, Archive, activeByColumn[schema.ProjectUserRole]("user_id")},
		{userNode, groundTruthNode, Revert, overridesOutsideAdminRoles},
		{questionNode, customDisplayNode, Archive, activeByColumn[schema.CustomDisplay]("question_id")},
		{questionGroupNode, schemaNode, Archive, schemasUsingGroup},
		{schemaNode, projectNode, Archive, activeByColumn[schema.Project]("schema_id")},
		{projectNode, assignmentNode, Archive, activeByColumn[schema.ProjectUserRole]("project_id")},
		{projectNode, customDisplayNode, Archive, activeByColumn[schema.CustomDisplay]("project_id")},

		{annotatorRoleNode, answerNode, Delete, answersOfAssignee},
		{annotatorRoleNode, reviewerRoleNode, Archive, coLocatedRole(schema.ReviewerRole)},
		{modelRoleNode, answerNode, Delete, answersOfAssignee},
		{modelRoleNode, reviewerRoleNode, Archive, coLocatedRole(schema.ReviewerRole)},
		{reviewerRoleNode, groundTruthNode, Delete, groundTruthOfReviewer},
		{reviewerRoleNode, answerReviewNode, Delete, reviewsByReviewer},
		{reviewerRoleNode, adminRoleNode, Archive, coLocatedRole(schema.AdminRole)},
		{adminRoleNode, groundTruthNode, Revert, overridesByAdmin},

		{answerNode, answerReviewNode, Delete, byColumn[schema.AnswerReview]("answer_id")},
	},
)

// demotionGraph reverts what a global admin overrode without holding an admin
// assignment in the project, once the user loses the admin role kind.
var demotionGraph = mustGraph(
	[]node{userRoleKindDef, groundTruthDef},
	[]edge{
		{userRoleKindNode, groundTruthNode, Revert, overridesOutsideAdminRoles},
	},
)

// schemaChangeGraph clears everything tied to a project's old schema before
// the schema reference is replaced.
var schemaChangeGraph = mustGraph(
	[]node{projectSchemaDef, answerDef, answerReviewDef, groundTruthDef, customDisplayDef},
	[]edge{
		{projectSchemaNode, answerNode, Delete, byColumn[schema.AnnotatorAnswer]("project_id")},
		{projectSchemaNode, groundTruthNode, Delete, byColumn[schema.ReviewerGroundTruth]("project_id")},
		{projectSchemaNode, customDisplayNode, Delete, byColumn[schema.CustomDisplay]("project_id")},
		{answerNode, answerReviewNode, Delete, byColumn[schema.AnswerReview]("answer_id")},
	},
)

func pluck(query *gorm.DB, what string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := query.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, schema.StoreError("selecting "+what, err)
	}
	return ids, nil
}

func byColumn[T any](column string) selector {
	return func(txn *gorm.DB, parentId uuid.UUID) ([]uuid.UUID, error) {
		return pluck(txn.Model(new(T)).Where(column+" = ?", parentId), fmt.Sprintf("dependents by %v", column))
	}
}

func activeByColumn[T any](column string) selector {
	return func(txn *gorm.DB, parentId uuid.UUID) ([]uuid.UUID, error) {
		query := txn.Model(new(T)).Where(column+" = ? AND is_active = ?", parentId, true)
		return pluck(query, fmt.Sprintf("active dependents by %v", column))
	}
}

func schemasUsingGroup(txn *gorm.DB, groupId uuid.UUID) ([]uuid.UUID, error) {
	members := txn.Model(&schema.SchemaQuestionGroup{}).Select("schema_id").Where("question_group_id = ?", groupId)
	return pluck(txn.Model(&schema.Schema{}).Where("is_active = ? AND id IN (?)", true, members), "schemas using question group")
}

func loadAssignment(txn *gorm.DB, id uuid.UUID) (schema.ProjectUserRole, error) {
	var assignment schema.ProjectUserRole
	if err := txn.First(&assignment, "id = ?", id).Error; err != nil {
		if isRecordNotFound(err) {
			return assignment, schema.NotFound(schema.AssignmentEntity, id)
		}
		return assignment, schema.StoreError("loading assignment", err)
	}
	return assignment, nil
}

func answersOfAssignee(txn *gorm.DB, assignmentId uuid.UUID) ([]uuid.UUID, error) {
	assignment, err := loadAssignment(txn, assignmentId)
	if err != nil {
		return nil, err
	}
	query := txn.Model(&schema.AnnotatorAnswer{}).Where("project_id = ? AND user_id = ?", assignment.ProjectId, assignment.UserId)
	return pluck(query, "answers of assignee")
}

func coLocatedRole(role string) selector {
	return func(txn *gorm.DB, assignmentId uuid.UUID) ([]uuid.UUID, error) {
		assignment, err := loadAssignment(txn, assignmentId)
		if err != nil {
			return nil, err
		}
		query := txn.Model(&schema.ProjectUserRole{}).
			Where("project_id = ? AND user_id = ? AND role = ? AND is_active = ?", assignment.ProjectId, assignment.UserId, role, true)
		return pluck(query, "co-located "+role+" role")
	}
}

func groundTruthOfReviewer(txn *gorm.DB, assignmentId uuid.UUID) ([]uuid.UUID, error) {
	assignment, err := loadAssignment(txn, assignmentId)
	if err != nil {
		return nil, err
	}
	query := txn.Model(&schema.ReviewerGroundTruth{}).Where("project_id = ? AND reviewer_id = ?", assignment.ProjectId, assignment.UserId)
	return pluck(query, "ground truth of reviewer")
}

func reviewsByReviewer(txn *gorm.DB, assignmentId uuid.UUID) ([]uuid.UUID, error) {
	assignment, err := loadAssignment(txn, assignmentId)
	if err != nil {
		return nil, err
	}
	answers := txn.Model(&schema.AnnotatorAnswer{}).Select("id").Where("project_id = ?", assignment.ProjectId)
	query := txn.Model(&schema.AnswerReview{}).Where("reviewer_id = ? AND answer_id IN (?)", assignment.UserId, answers)
	return pluck(query, "answer reviews of reviewer")
}

func overridesByAdmin(txn *gorm.DB, assignmentId uuid.UUID) ([]uuid.UUID, error) {
	assignment, err := loadAssignment(txn, assignmentId)
	if err != nil {
		return nil, err
	}
	query := txn.Model(&schema.ReviewerGroundTruth{}).
		Where("project_id = ? AND modified_by_admin_id = ?", assignment.ProjectId, assignment.UserId)
	return pluck(query, "ground truth overridden by admin")
}

// overridesOutsideAdminRoles selects the overrides a user made in projects
// where they hold no active admin assignment. Only the admin role kind allows
// those.
func overridesOutsideAdminRoles(txn *gorm.DB, userId uuid.UUID) ([]uuid.UUID, error) {
	assigned := txn.Model(&schema.ProjectUserRole{}).Select("project_id").
		Where("user_id = ? AND role = ? AND is_active = ?", userId, schema.AdminRole, true)
	query := txn.Model(&schema.ReviewerGroundTruth{}).
		Where("modified_by_admin_id = ? AND project_id NOT IN (?)", userId, assigned)
	return pluck(query, "overrides outside admin assignments")
}
