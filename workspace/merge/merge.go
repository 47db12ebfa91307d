// Package merge combines and compares declarative collections without
// touching the store.
package merge

import (
	"fmt"
	"log/slog"

	"label_pizza/utils/logging"
	"label_pizza/workspace/keys"
	"label_pizza/workspace/metrics"
	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"
)

// Side names one of the two inputs by position.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Left, Right:
		return Side(s), nil
	case "a", "A":
		return Left, nil
	case "b", "B":
		return Right, nil
	}
	return "", fmt.Errorf("invalid precedence '%v', must be 'left' or 'right'", s)
}

type Report struct {
	Collection   records.Collection `json:"collection"`
	LeftSize     int                `json:"left_size"`
	RightSize    int                `json:"right_size"`
	MergedSize   int                `json:"merged_size"`
	Conflicts    int                `json:"conflicts"`
	ConflictKeys []keys.Key         `json:"conflict_keys"`
	Precedence   Side               `json:"precedence"`
}

func (r Report) String() string {
	return fmt.Sprintf("%v: %d + %d records merged into %d, %d conflicts resolved in favor of %v",
		r.Collection, r.LeftSize, r.RightSize, r.MergedSize, r.Conflicts, r.Precedence)
}

// index maps every key of a collection to its record. Repeated keys must carry
// identical content.
func index[R records.Record[R]](side Side, recs []R) (map[string]R, []keys.Key, error) {
	out := make(map[string]R, len(recs))
	order := make([]keys.Key, 0, len(recs))
	for _, rec := range recs {
		id := rec.Key().Id()
		if existing, ok := out[id]; ok {
			if !records.Equal(existing, rec) {
				return nil, nil, fmt.Errorf("%w: %v input repeats key %v with different content", schema.ErrConflict, side, rec.Key())
			}
			continue
		}
		out[id] = rec
		order = append(order, rec.Key())
	}
	return out, order, nil
}

// Merge combines two states of the same collection. Keys found on one side
// only are kept as they are. Keys found on both sides with equal content are
// kept once; with different content the precedence side wins and a conflict
// is counted. Both the merged list and the conflict keys are sorted by key,
// so the result depends only on which input takes precedence, not on which
// position it is passed in.
func Merge[R records.Record[R]](c records.Collection, left, right []R, precedence Side) ([]R, Report, error) {
	if precedence != Left && precedence != Right {
		return nil, Report{}, fmt.Errorf("invalid precedence '%v'", precedence)
	}

	leftByKey, leftKeys, err := index(Left, left)
	if err != nil {
		return nil, Report{}, err
	}
	rightByKey, rightKeys, err := index(Right, right)
	if err != nil {
		return nil, Report{}, err
	}

	report := Report{
		Collection:   c,
		LeftSize:     len(leftKeys),
		RightSize:    len(rightKeys),
		ConflictKeys: []keys.Key{},
		Precedence:   precedence,
	}

	allKeys := append(append([]keys.Key{}, leftKeys...), rightKeys...)
	keys.Sort(allKeys)

	merged := make([]R, 0, len(allKeys))
	for i, key := range allKeys {
		if i > 0 && allKeys[i-1].Equal(key) {
			continue
		}

		id := key.Id()
		l, inLeft := leftByKey[id]
		r, inRight := rightByKey[id]
		switch {
		case inLeft && !inRight:
			merged = append(merged, l)
		case inRight && !inLeft:
			merged = append(merged, r)
		default:
			if !records.Equal(l, r) {
				report.Conflicts++
				report.ConflictKeys = append(report.ConflictKeys, key)
			}
			if precedence == Left {
				merged = append(merged, l)
			} else {
				merged = append(merged, r)
			}
		}
	}
	report.MergedSize = len(merged)

	metrics.MergeConflicts.WithLabelValues(string(c)).Add(float64(report.Conflicts))
	slog.Info("merged collection", "collection", c, "left", report.LeftSize, "right", report.RightSize,
		"merged", report.MergedSize, "conflicts", report.Conflicts, "precedence", precedence, "code", logging.MERGE)

	return merged, report, nil
}
