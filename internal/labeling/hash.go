package labeling

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jmlee/statarb/internal/contracts"
)

// LabelSetHash computes a deterministic content hash over a label sequence.
// Re-running the labeler on identical inputs and rule constants must yield
// an identical hash; the hash feeds the artifact's data provenance.
func LabelSetHash(samples []contracts.LabeledSample) string {
	h := sha256.New()
	for _, s := range samples {
		eligible := 0
		if s.AI1Eligible {
			eligible = 1
		}
		fmt.Fprintf(h, "%s|%d|%d|%d|%d|%s|%.10f|%.10f\n",
			s.PairID, s.BarIndex, eligible, s.LabelAI1, s.LabelAI2,
			s.Direction, s.TargetAI3, s.Weight)
	}
	return hex.EncodeToString(h.Sum(nil))
}
