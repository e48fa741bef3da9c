package contracts

import "fmt"

// SplitMode distinguishes the two validation schemes.
type SplitMode string

const (
	SplitModeKFold       SplitMode = "purged_kfold"
	SplitModeWalkForward SplitMode = "walk_forward"
)

// IndexRange is a half-open bar-index interval [Start, End).
type IndexRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bars in the range.
func (r IndexRange) Len() int {
	return r.End - r.Start
}

// Contains reports whether idx falls inside the range.
func (r IndexRange) Contains(idx int) bool {
	return idx >= r.Start && idx < r.End
}

// Overlaps reports whether two ranges share any bar.
func (r IndexRange) Overlaps(other IndexRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// Split is one (train, validation) pair inside a SplitPlan. Train may be
// split around the validation window; every segment already excludes the
// purge and embargo gaps.
type Split struct {
	Fold       int          `json:"fold"`
	Train      []IndexRange `json:"train"`
	Validation IndexRange   `json:"validation"`
}

// TrainLen returns the total number of training bars.
func (s Split) TrainLen() int {
	total := 0
	for _, r := range s.Train {
		total += r.Len()
	}
	return total
}

// SplitPlan is the ordered, read-only output of the validator: a sequence of
// leakage-safe (train, validation) pairs over one labeled sample sequence.
type SplitPlan struct {
	Mode        SplitMode `json:"mode"`
	Splits      []Split   `json:"splits"`
	TotalBars   int       `json:"total_bars"`
	PurgeBars   int       `json:"purge_bars"`
	EmbargoBars int       `json:"embargo_bars"`
}

// Validate checks the purge/embargo invariant: no validation bar may appear
// in any training segment of its own split.
func (p SplitPlan) Validate() error {
	if len(p.Splits) == 0 {
		return fmt.Errorf("split plan has no splits")
	}
	for _, split := range p.Splits {
		for _, train := range split.Train {
			if train.Overlaps(split.Validation) {
				return fmt.Errorf("fold %d: train range [%d,%d) overlaps validation [%d,%d)",
					split.Fold, train.Start, train.End, split.Validation.Start, split.Validation.End)
			}
		}
	}
	return nil
}
