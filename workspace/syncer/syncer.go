// Package syncer reconciles declarative collections with the store. Sync never
// deletes: records missing from the desired state are left untouched and an
// explicit is_active=false is the only archival signal, executed through the
// cascade resolver.
package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"label_pizza/utils/logging"
	"label_pizza/workspace/cascade"
	"label_pizza/workspace/keys"
	"label_pizza/workspace/metrics"
	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"

	"gorm.io/gorm"
)

type Outcome string

const (
	Created   Outcome = "created"
	Updated   Outcome = "updated"
	Unchanged Outcome = "unchanged"
	Archived  Outcome = "archived"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

const (
	reasonDependency = "depends on a record that failed"
	reasonDeclined   = "cascade not confirmed"
)

// RecordError is a validation failure of a single record. It does not abort
// the batch it belongs to.
type RecordError struct {
	Collection records.Collection
	Key        keys.Key
	Err        error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%v %v: %v", e.Collection, e.Key, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

func (e RecordError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Collection records.Collection `json:"collection"`
		Key        keys.Key           `json:"key"`
		Error      string             `json:"error"`
	}{e.Collection, e.Key, e.Err.Error()})
}

type SkippedRecord struct {
	Key    keys.Key `json:"key"`
	Reason string   `json:"reason"`
}

type Result struct {
	Collection records.Collection `json:"collection"`
	Created    []keys.Key         `json:"created"`
	Updated    []keys.Key         `json:"updated"`
	Archived   []keys.Key         `json:"archived"`
	Unchanged  int                `json:"unchanged"`
	Skipped    []SkippedRecord    `json:"skipped"`
	Errors     []RecordError      `json:"errors"`
	Plans      []cascade.Plan     `json:"plans,omitempty"`
	DryRun     bool               `json:"dry_run"`
}

func newResult(c records.Collection) Result {
	return Result{
		Collection: c,
		Created:    []keys.Key{},
		Updated:    []keys.Key{},
		Archived:   []keys.Key{},
		Skipped:    []SkippedRecord{},
		Errors:     []RecordError{},
	}
}

// Changes is the number of records the call created, updated or archived.
func (r Result) Changes() int {
	return len(r.Created) + len(r.Updated) + len(r.Archived)
}

func (r Result) String() string {
	return fmt.Sprintf("%v: %d created, %d updated, %d archived, %d unchanged, %d skipped, %d errors",
		r.Collection, len(r.Created), len(r.Updated), len(r.Archived), r.Unchanged, len(r.Skipped), len(r.Errors))
}

func (r *Result) absorb(other Result) {
	r.Created = append(r.Created, other.Created...)
	r.Updated = append(r.Updated, other.Updated...)
	r.Archived = append(r.Archived, other.Archived...)
	r.Unchanged += other.Unchanged
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Errors = append(r.Errors, other.Errors...)
	r.Plans = append(r.Plans, other.Plans...)
}

func (r *Result) fail(key keys.Key, err error) {
	r.Errors = append(r.Errors, RecordError{Collection: r.Collection, Key: key, Err: err})
}

func (r *Result) skip(key keys.Key, reason string) {
	r.Skipped = append(r.Skipped, SkippedRecord{Key: key, Reason: reason})
}

func (r *Result) record(key keys.Key, outcome Outcome) {
	switch outcome {
	case Created:
		r.Created = append(r.Created, key)
	case Updated:
		r.Updated = append(r.Updated, key)
	case Unchanged:
		r.Unchanged++
	}
}

func (r *Result) observe() {
	c := string(r.Collection)
	metrics.SyncRecords.WithLabelValues(c, string(Created)).Add(float64(len(r.Created)))
	metrics.SyncRecords.WithLabelValues(c, string(Updated)).Add(float64(len(r.Updated)))
	metrics.SyncRecords.WithLabelValues(c, string(Archived)).Add(float64(len(r.Archived)))
	metrics.SyncRecords.WithLabelValues(c, string(Unchanged)).Add(float64(r.Unchanged))
	metrics.SyncRecords.WithLabelValues(c, string(Skipped)).Add(float64(len(r.Skipped)))
	metrics.SyncRecords.WithLabelValues(c, string(Failed)).Add(float64(len(r.Errors)))
}

type Options struct {
	// Confirm is shown the cascade plan of every archival before the sync
	// transaction begins. A nil Confirm declines every archival.
	Confirm cascade.Confirmer
	// DryRun runs the sync in a transaction that is rolled back.
	DryRun bool
	Now    func() time.Time
}

type Syncer struct {
	db     *gorm.DB
	opts   Options
	failed map[records.Collection]map[string]bool
}

func New(db *gorm.DB, opts Options) *Syncer {
	return &Syncer{db: db, opts: opts, failed: make(map[records.Collection]map[string]bool)}
}

func (s *Syncer) now() time.Time {
	if s.opts.Now != nil {
		return s.opts.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Syncer) confirm(plan cascade.Plan) bool {
	if s.opts.Confirm == nil {
		return false
	}
	return s.opts.Confirm(plan)
}

func (s *Syncer) markFailed(c records.Collection, key keys.Key) {
	if s.failed[c] == nil {
		s.failed[c] = make(map[string]bool)
	}
	s.failed[c][key.Id()] = true
}

func (s *Syncer) failedRefs(refs []ref) []string {
	var out []string
	for _, r := range refs {
		if s.failed[r.collection][r.key.Id()] {
			out = append(out, fmt.Sprintf("%v %v", r.collection, r.key))
		}
	}
	return out
}

var errDryRun = errors.New("dry run")

// dry runs fn against a transaction that is always rolled back when the
// syncer is in dry run mode. Archivals are planned but not confirmed.
func (s *Syncer) dry(fn func(s *Syncer) error) error {
	if !s.opts.DryRun {
		return fn(s)
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		inner := New(txn, Options{Confirm: cascade.AutoConfirm, Now: s.opts.Now})
		if err := fn(inner); err != nil {
			return err
		}
		return errDryRun
	})
	if errors.Is(err, errDryRun) {
		return nil
	}
	return err
}

type phase int

const (
	allPhases phase = iota
	// upsertPhase creates and updates records but defers archivals.
	upsertPhase
	// archivePhase only executes the archivals deferred by upsertPhase.
	archivePhase
)

type ref struct {
	collection records.Collection
	key        keys.Key
}

// handler implements one collection. write creates or updates the stored
// form of a record and may reactivate a row, but never deactivates one:
// deactivation always goes through a cascade plan.
type handler[R records.Record[R]] interface {
	collection() records.Collection
	// entity is the cascade entity of archived records, empty when records
	// of the collection carry no active flag.
	entity() schema.EntityType
	active(rec R) bool
	refs(rec R) []ref
	validate(rec R) error
	// state reports whether the record's key exists in the store and whether
	// the stored row is active.
	state(txn *gorm.DB, rec R) (exists, active bool, err error)
	write(txn *gorm.DB, rec R, now time.Time) (Outcome, error)
}

// updatePlanner is implemented by handlers whose updates can destroy data.
// Such an update is planned and confirmed like an archival, and the plan runs
// before the write.
type updatePlanner[R records.Record[R]] interface {
	planUpdate(txn *gorm.DB, rec R) (*cascade.Plan, error)
	executeUpdate(txn *gorm.DB, plan cascade.Plan) error
}

// batch is a loaded collection ready to be synced.
type batch interface {
	collection() records.Collection
	run(s *Syncer, p phase) (Result, error)
}

type typedBatch[R records.Record[R]] struct {
	h    handler[R]
	recs []R
}

func (b typedBatch[R]) collection() records.Collection {
	return b.h.collection()
}

func (b typedBatch[R]) run(s *Syncer, p phase) (Result, error) {
	return run(s, b.h, b.recs, p)
}

func batchOf[R records.Record[R]](h handler[R], recs []R) batch {
	return typedBatch[R]{h: h, recs: recs}
}

// prepare drops records with duplicate keys, invalid content or failed
// dependencies. Outcomes are only reported when report is set, so that the
// archive phase does not repeat what the upsert phase reported.
func prepare[R records.Record[R]](s *Syncer, h handler[R], desired []R, result *Result, report bool) []R {
	byKey := make(map[string][]R)
	order := make([]keys.Key, 0, len(desired))
	for _, rec := range desired {
		id := rec.Key().Id()
		if _, ok := byKey[id]; !ok {
			order = append(order, rec.Key())
		}
		byKey[id] = append(byKey[id], rec)
	}

	fail := func(key keys.Key, err error) {
		if report {
			result.fail(key, err)
			s.markFailed(h.collection(), key)
		}
	}

	out := make([]R, 0, len(order))
	for _, key := range order {
		recs := byKey[key.Id()]
		rec := recs[0]

		conflicting := false
		for _, other := range recs[1:] {
			if !records.Equal(rec, other) {
				conflicting = true
			}
		}
		if conflicting {
			fail(key, fmt.Errorf("%w: key appears %d times with different content", schema.ErrConflict, len(recs)))
			continue
		}

		if err := h.validate(rec); err != nil {
			fail(key, err)
			continue
		}

		if missing := s.failedRefs(h.refs(rec)); len(missing) > 0 {
			if report {
				result.skip(key, reasonDependency+": "+strings.Join(missing, ", "))
				s.markFailed(h.collection(), key)
			}
			continue
		}

		out = append(out, rec)
	}
	return out
}

type item[R any] struct {
	rec    R
	update *cascade.Plan
	plan   *cascade.Plan
}

func isStoreFailure(err error) bool {
	return errors.Is(err, schema.ErrStoreUnavailable)
}

func run[R records.Record[R]](s *Syncer, h handler[R], desired []R, p phase) (Result, error) {
	start := time.Now()
	c := h.collection()
	result := newResult(c)

	pending := prepare(s, h, desired, &result, p != archivePhase)
	planner, _ := h.(updatePlanner[R])

	// Archival plans are computed and confirmed before the transaction begins.
	items := make([]item[R], 0, len(pending))
	for _, rec := range pending {
		it := item[R]{rec: rec}

		if planner != nil && p != archivePhase {
			plan, err := planner.planUpdate(s.db, rec)
			if err != nil {
				if isStoreFailure(err) {
					return Result{}, err
				}
				result.fail(rec.Key(), err)
				s.markFailed(c, rec.Key())
				continue
			}
			if plan != nil {
				if !s.confirm(*plan) {
					metrics.CascadeDeclined.Inc()
					slog.Info("update declined", "collection", c, "key", rec.Key().String(), "steps", len(plan.Steps), "code", logging.SYNC)
					result.skip(rec.Key(), reasonDeclined)
					continue
				}
				it.update = plan
				result.Plans = append(result.Plans, *plan)
			}
		}

		if h.entity() != "" && !h.active(rec) && p != upsertPhase {
			exists, active, err := h.state(s.db, rec)
			if err != nil {
				if isStoreFailure(err) {
					return Result{}, err
				}
				result.fail(rec.Key(), err)
				s.markFailed(c, rec.Key())
				continue
			}

			if exists && active {
				plan, err := cascade.PlanRemoval(s.db, h.entity(), rec.Key())
				if err != nil {
					if isStoreFailure(err) {
						return Result{}, err
					}
					result.fail(rec.Key(), err)
					s.markFailed(c, rec.Key())
					continue
				}
				if !s.confirm(plan) {
					metrics.CascadeDeclined.Inc()
					slog.Info("archival declined", "collection", c, "key", rec.Key().String(), "steps", len(plan.Steps), "code", logging.SYNC)
					result.skip(rec.Key(), reasonDeclined)
					continue
				}
				it.plan = &plan
				result.Plans = append(result.Plans, plan)
			}
		}

		if p == archivePhase && it.plan == nil {
			continue
		}
		items = append(items, it)
	}

	failedKeys := make([]keys.Key, 0)

	err := s.db.Transaction(func(txn *gorm.DB) error {
		now := s.now()
		for _, it := range items {
			key := it.rec.Key()

			var outcome Outcome
			// Each record runs in a savepoint so a rejected record leaves no trace.
			err := txn.Transaction(func(sp *gorm.DB) error {
				if it.update != nil {
					if err := planner.executeUpdate(sp, *it.update); err != nil {
						return err
					}
				}
				if p != archivePhase {
					var err error
					if outcome, err = h.write(sp, it.rec, now); err != nil {
						return err
					}
				}
				if it.plan != nil {
					return cascade.Execute(sp, *it.plan)
				}
				return nil
			})
			if err != nil {
				if isStoreFailure(err) {
					return err
				}
				result.fail(key, err)
				failedKeys = append(failedKeys, key)
				continue
			}

			result.record(key, outcome)
			if it.plan != nil {
				result.Archived = append(result.Archived, key)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("sync aborted", "collection", c, "error", err, "code", logging.SYNC)
		return Result{}, err
	}

	for _, key := range failedKeys {
		s.markFailed(c, key)
	}

	result.observe()
	metrics.SyncDuration.WithLabelValues(string(c)).Observe(time.Since(start).Seconds())
	slog.Info("synced collection", "collection", c, "created", len(result.Created), "updated", len(result.Updated),
		"archived", len(result.Archived), "unchanged", result.Unchanged, "skipped", len(result.Skipped), "errors", len(result.Errors), "code", logging.SYNC)

	return result, nil
}

func (s *Syncer) sync(b batch) (Result, error) {
	var result Result
	err := s.dry(func(s *Syncer) error {
		var err error
		result, err = b.run(s, allPhases)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	result.DryRun = s.opts.DryRun
	return result, nil
}

func (s *Syncer) SyncVideos(recs []records.VideoRecord) (Result, error) {
	return s.sync(batchOf[records.VideoRecord](videoHandler{}, recs))
}

func (s *Syncer) SyncUsers(recs []records.UserRecord) (Result, error) {
	return s.sync(batchOf[records.UserRecord](userHandler{}, recs))
}

func (s *Syncer) SyncQuestionGroups(recs []records.QuestionGroupRecord) (Result, error) {
	return s.sync(batchOf[records.QuestionGroupRecord](questionGroupHandler{}, recs))
}

func (s *Syncer) SyncSchemas(recs []records.SchemaRecord) (Result, error) {
	return s.sync(batchOf[records.SchemaRecord](schemaHandler{}, recs))
}

func (s *Syncer) SyncProjects(recs []records.ProjectRecord) (Result, error) {
	return s.sync(batchOf[records.ProjectRecord](projectHandler{}, recs))
}

func (s *Syncer) SyncProjectGroups(recs []records.ProjectGroupRecord) (Result, error) {
	return s.sync(batchOf[records.ProjectGroupRecord](projectGroupHandler{}, recs))
}

func (s *Syncer) SyncAssignments(recs []records.AssignmentRecord) (Result, error) {
	return s.sync(batchOf[records.AssignmentRecord](assignmentHandler{}, recs))
}

func (s *Syncer) SyncAnnotations(recs []records.AnnotationRecord) (Result, error) {
	return s.sync(batchOf[records.AnnotationRecord](annotationHandler{groundTruth: false}, recs))
}

func (s *Syncer) SyncGroundTruths(recs []records.AnnotationRecord) (Result, error) {
	return s.sync(batchOf[records.AnnotationRecord](annotationHandler{groundTruth: true}, recs))
}
