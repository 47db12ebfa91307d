package syncer

import (
	"fmt"
	"slices"

	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"
)

type source struct {
	path       string
	data       []byte
	yamlFormat bool
}

func load[R records.Record[R]](src source, h handler[R]) (batch, error) {
	var recs []R
	var err error
	if src.path != "" {
		recs, err = records.Load[R](src.path)
	} else {
		recs, err = records.Decode[R](src.data, src.yamlFormat)
		if err != nil {
			err = fmt.Errorf("%w: error decoding records: %v", schema.ErrInvalidRecord, err)
		}
	}
	if err != nil {
		return nil, err
	}
	return batchOf(h, recs), nil
}

func loadBatch(c records.Collection, src source) (batch, error) {
	switch c {
	case records.Videos:
		return load[records.VideoRecord](src, videoHandler{})
	case records.Users:
		return load[records.UserRecord](src, userHandler{})
	case records.QuestionGroups:
		return load[records.QuestionGroupRecord](src, questionGroupHandler{})
	case records.Schemas:
		return load[records.SchemaRecord](src, schemaHandler{})
	case records.Projects:
		return load[records.ProjectRecord](src, projectHandler{})
	case records.ProjectGroups:
		return load[records.ProjectGroupRecord](src, projectGroupHandler{})
	case records.Assignments:
		return load[records.AssignmentRecord](src, assignmentHandler{})
	case records.Annotations:
		return load[records.AnnotationRecord](src, annotationHandler{groundTruth: false})
	case records.GroundTruths:
		return load[records.AnnotationRecord](src, annotationHandler{groundTruth: true})
	}
	return nil, fmt.Errorf("unknown collection '%v'", c)
}

// SyncFile syncs the collection stored in a json/yaml file or a directory of
// such files.
func (s *Syncer) SyncFile(c records.Collection, path string) (Result, error) {
	b, err := loadBatch(c, source{path: path})
	if err != nil {
		return Result{}, err
	}
	return s.sync(b)
}

// SyncData syncs a collection from an encoded list of records.
func (s *Syncer) SyncData(c records.Collection, data []byte, yamlFormat bool) (Result, error) {
	b, err := loadBatch(c, source{data: data, yamlFormat: yamlFormat})
	if err != nil {
		return Result{}, err
	}
	return s.sync(b)
}

// SyncDir syncs every collection found in dir. Creates and updates run in
// dependency order, then archivals run in reverse dependency order. Records
// referencing a record that failed earlier in the run are skipped.
func (s *Syncer) SyncDir(dir string) ([]Result, error) {
	batches := make([]batch, 0, len(records.SyncOrder))
	for _, c := range records.SyncOrder {
		path, ok := records.Locate(dir, c)
		if !ok {
			continue
		}
		b, err := loadBatch(c, source{path: path})
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("no collection files found in %v", dir)
	}

	results := make([]Result, len(batches))
	err := s.dry(func(s *Syncer) error {
		for i, b := range batches {
			result, err := b.run(s, upsertPhase)
			if err != nil {
				return fmt.Errorf("error syncing %v: %w", b.collection(), err)
			}
			results[i] = result
		}

		for i, b := range slices.Backward(batches) {
			result, err := b.run(s, archivePhase)
			if err != nil {
				return fmt.Errorf("error archiving %v: %w", b.collection(), err)
			}
			results[i].absorb(result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range results {
		results[i].DryRun = s.opts.DryRun
	}
	return results, nil
}
