package merge

import (
	"fmt"
	"path/filepath"

	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"
	"label_pizza/workspace/syncer"

	"gorm.io/gorm"
)

// collection binds the generic operations to one record type.
type collection interface {
	merge(left, right string, precedence Side, out string) (Report, error)
	compare(left, right string) (DiffReport, error)
	compareStore(db *gorm.DB, path string) (DiffReport, error)
	mergeData(left, right []byte, precedence Side) (interface{}, Report, error)
	compareData(left, right []byte) (DiffReport, error)
	compareStoreData(db *gorm.DB, data []byte) (DiffReport, error)
}

type typed[R records.Record[R]] struct {
	c      records.Collection
	export func(*gorm.DB) ([]R, error)
	// scrub drops fields the store cannot export before comparing with it.
	scrub func(R) R
}

// load reads a collection file or directory. An empty path is an empty state.
func (t typed[R]) load(path string) ([]R, error) {
	if path == "" {
		return []R{}, nil
	}
	recs, err := records.Load[R](path)
	if err != nil {
		return nil, fmt.Errorf("error loading %v from %v: %w", t.c, path, err)
	}
	return recs, nil
}

func (t typed[R]) decode(data []byte) ([]R, error) {
	recs, err := records.Decode[R](data, false)
	if err != nil {
		return nil, fmt.Errorf("%w: error decoding %v: %v", schema.ErrInvalidRecord, t.c, err)
	}
	return recs, nil
}

func (t typed[R]) merge(left, right string, precedence Side, out string) (Report, error) {
	l, err := t.load(left)
	if err != nil {
		return Report{}, err
	}
	r, err := t.load(right)
	if err != nil {
		return Report{}, err
	}
	merged, report, err := Merge(t.c, l, r, precedence)
	if err != nil {
		return Report{}, err
	}
	if err := records.WriteFile(out, merged); err != nil {
		return Report{}, err
	}
	return report, nil
}

func (t typed[R]) compare(left, right string) (DiffReport, error) {
	l, err := t.load(left)
	if err != nil {
		return DiffReport{}, err
	}
	r, err := t.load(right)
	if err != nil {
		return DiffReport{}, err
	}
	return Compare(t.c, l, r)
}

func (t typed[R]) compareStore(db *gorm.DB, path string) (DiffReport, error) {
	desired, err := t.load(path)
	if err != nil {
		return DiffReport{}, err
	}
	return t.compareWithStore(db, desired)
}

func (t typed[R]) mergeData(left, right []byte, precedence Side) (interface{}, Report, error) {
	l, err := t.decode(left)
	if err != nil {
		return nil, Report{}, err
	}
	r, err := t.decode(right)
	if err != nil {
		return nil, Report{}, err
	}
	return Merge(t.c, l, r, precedence)
}

func (t typed[R]) compareData(left, right []byte) (DiffReport, error) {
	l, err := t.decode(left)
	if err != nil {
		return DiffReport{}, err
	}
	r, err := t.decode(right)
	if err != nil {
		return DiffReport{}, err
	}
	return Compare(t.c, l, r)
}

func (t typed[R]) compareStoreData(db *gorm.DB, data []byte) (DiffReport, error) {
	desired, err := t.decode(data)
	if err != nil {
		return DiffReport{}, err
	}
	return t.compareWithStore(db, desired)
}

func (t typed[R]) compareWithStore(db *gorm.DB, desired []R) (DiffReport, error) {
	stored, err := t.export(db)
	if err != nil {
		return DiffReport{}, err
	}
	if t.scrub != nil {
		for i := range desired {
			desired[i] = t.scrub(desired[i])
		}
	}
	return Compare(t.c, stored, desired)
}

func withoutPassword(u records.UserRecord) records.UserRecord {
	u.Password = ""
	return u
}

func lookup(c records.Collection) (collection, error) {
	switch c {
	case records.Videos:
		return typed[records.VideoRecord]{c: c, export: syncer.ExportVideos}, nil
	case records.Users:
		return typed[records.UserRecord]{c: c, export: syncer.ExportUsers, scrub: withoutPassword}, nil
	case records.QuestionGroups:
		return typed[records.QuestionGroupRecord]{c: c, export: syncer.ExportQuestionGroups}, nil
	case records.Schemas:
		return typed[records.SchemaRecord]{c: c, export: syncer.ExportSchemas}, nil
	case records.Projects:
		return typed[records.ProjectRecord]{c: c, export: syncer.ExportProjects}, nil
	case records.ProjectGroups:
		return typed[records.ProjectGroupRecord]{c: c, export: syncer.ExportProjectGroups}, nil
	case records.Assignments:
		return typed[records.AssignmentRecord]{c: c, export: syncer.ExportAssignments}, nil
	case records.Annotations:
		return typed[records.AnnotationRecord]{c: c, export: syncer.ExportAnnotations}, nil
	case records.GroundTruths:
		return typed[records.AnnotationRecord]{c: c, export: syncer.ExportGroundTruths}, nil
	}
	return nil, fmt.Errorf("unknown collection '%v'", c)
}

// MergeFiles merges two collection files into out.
func MergeFiles(c records.Collection, left, right string, precedence Side, out string) (Report, error) {
	ops, err := lookup(c)
	if err != nil {
		return Report{}, err
	}
	return ops.merge(left, right, precedence, out)
}

func CompareFiles(c records.Collection, left, right string) (DiffReport, error) {
	ops, err := lookup(c)
	if err != nil {
		return DiffReport{}, err
	}
	return ops.compare(left, right)
}

// CompareStore compares the exported store (left) with a desired collection
// file (right).
func CompareStore(db *gorm.DB, c records.Collection, path string) (DiffReport, error) {
	ops, err := lookup(c)
	if err != nil {
		return DiffReport{}, err
	}
	return ops.compareStore(db, path)
}

// MergeData merges two json encoded record lists and returns the merged list.
func MergeData(c records.Collection, left, right []byte, precedence Side) (interface{}, Report, error) {
	ops, err := lookup(c)
	if err != nil {
		return nil, Report{}, err
	}
	return ops.mergeData(left, right, precedence)
}

func CompareData(c records.Collection, left, right []byte) (DiffReport, error) {
	ops, err := lookup(c)
	if err != nil {
		return DiffReport{}, err
	}
	return ops.compareData(left, right)
}

// CompareStoreData compares the exported store (left) with a json encoded
// record list (right).
func CompareStoreData(db *gorm.DB, c records.Collection, data []byte) (DiffReport, error) {
	ops, err := lookup(c)
	if err != nil {
		return DiffReport{}, err
	}
	return ops.compareStoreData(db, data)
}

func locate(dir string, c records.Collection) string {
	if dir == "" {
		return ""
	}
	path, _ := records.Locate(dir, c)
	return path
}

// MergeDirs merges every collection found in either directory and writes the
// result to outDir as <collection>.<ext>.
func MergeDirs(left, right string, precedence Side, outDir, ext string) ([]Report, error) {
	reports := make([]Report, 0, len(records.SyncOrder))
	for _, c := range records.SyncOrder {
		l, r := locate(left, c), locate(right, c)
		if l == "" && r == "" {
			continue
		}
		report, err := MergeFiles(c, l, r, precedence, filepath.Join(outDir, string(c)+"."+ext))
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// CompareDirs compares every collection found in either directory.
func CompareDirs(left, right string) ([]DiffReport, error) {
	reports := make([]DiffReport, 0, len(records.SyncOrder))
	for _, c := range records.SyncOrder {
		l, r := locate(left, c), locate(right, c)
		if l == "" && r == "" {
			continue
		}
		report, err := CompareFiles(c, l, r)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// CompareStoreDir compares the store with every collection found in dir.
func CompareStoreDir(db *gorm.DB, dir string) ([]DiffReport, error) {
	reports := make([]DiffReport, 0, len(records.SyncOrder))
	for _, c := range records.SyncOrder {
		path := locate(dir, c)
		if path == "" {
			continue
		}
		report, err := CompareStore(db, c, path)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
