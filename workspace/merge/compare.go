package merge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"

	"label_pizza/utils/logging"
	"label_pizza/workspace/keys"
	"label_pizza/workspace/records"
)

type Difference struct {
	Key    keys.Key `json:"key"`
	Fields []string `json:"fields"`
}

type Summary struct {
	Left      int `json:"left"`
	Right     int `json:"right"`
	Same      int `json:"same"`
	LeftOnly  int `json:"left_only"`
	RightOnly int `json:"right_only"`
	Differing int `json:"differing"`
}

type DiffReport struct {
	Collection records.Collection `json:"collection"`
	Identical  bool               `json:"identical"`
	LeftOnly   []keys.Key         `json:"left_only"`
	RightOnly  []keys.Key         `json:"right_only"`
	Differing  []Difference       `json:"differing"`
	Summary    Summary            `json:"summary"`
}

func (r DiffReport) String() string {
	if r.Identical {
		return fmt.Sprintf("%v: identical (%d records)", r.Collection, r.Summary.Same)
	}
	return fmt.Sprintf("%v: %d same, %d only left, %d only right, %d differing",
		r.Collection, r.Summary.Same, r.Summary.LeftOnly, r.Summary.RightOnly, r.Summary.Differing)
}

func fieldsOf[R records.Record[R]](rec R) (map[string]interface{}, error) {
	data, err := records.Canonical(rec)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// changedFields lists the top level fields whose normalized values differ.
func changedFields[R records.Record[R]](left, right R) ([]string, error) {
	l, err := fieldsOf(left)
	if err != nil {
		return nil, err
	}
	r, err := fieldsOf(right)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(l)+len(r))
	for name := range l {
		names[name] = true
	}
	for name := range r {
		names[name] = true
	}

	var changed []string
	for name := range names {
		if !reflect.DeepEqual(l[name], r[name]) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// Compare reports how two states of the same collection differ by key.
func Compare[R records.Record[R]](c records.Collection, left, right []R) (DiffReport, error) {
	leftByKey, leftKeys, err := index(Left, left)
	if err != nil {
		return DiffReport{}, err
	}
	rightByKey, rightKeys, err := index(Right, right)
	if err != nil {
		return DiffReport{}, err
	}

	report := DiffReport{
		Collection: c,
		LeftOnly:   []keys.Key{},
		RightOnly:  []keys.Key{},
		Differing:  []Difference{},
		Summary:    Summary{Left: len(leftKeys), Right: len(rightKeys)},
	}

	for _, key := range leftKeys {
		l := leftByKey[key.Id()]
		r, ok := rightByKey[key.Id()]
		if !ok {
			report.LeftOnly = append(report.LeftOnly, key)
			continue
		}
		fields, err := changedFields(l, r)
		if err != nil {
			return DiffReport{}, fmt.Errorf("error comparing %v: %w", key, err)
		}
		if len(fields) == 0 {
			report.Summary.Same++
			continue
		}
		report.Differing = append(report.Differing, Difference{Key: key, Fields: fields})
	}
	for _, key := range rightKeys {
		if _, ok := leftByKey[key.Id()]; !ok {
			report.RightOnly = append(report.RightOnly, key)
		}
	}

	keys.Sort(report.LeftOnly)
	keys.Sort(report.RightOnly)
	sort.Slice(report.Differing, func(i, j int) bool {
		return report.Differing[i].Key.Compare(report.Differing[j].Key) < 0
	})

	report.Summary.LeftOnly = len(report.LeftOnly)
	report.Summary.RightOnly = len(report.RightOnly)
	report.Summary.Differing = len(report.Differing)
	report.Identical = report.Summary.LeftOnly == 0 && report.Summary.RightOnly == 0 && report.Summary.Differing == 0

	slog.Info("compared collection", "collection", c, "identical", report.Identical, "left_only", report.Summary.LeftOnly,
		"right_only", report.Summary.RightOnly, "differing", report.Summary.Differing, "code", logging.COMPARE)

	return report, nil
}
