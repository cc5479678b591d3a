// Package matcher decides which enrolled identity, if any, a probe embedding
// belongs to.
package matcher

import (
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// DefaultTolerance is the maximum L2 distance accepted as the same person.
const DefaultTolerance = 0.6

// Result is the outcome of Identify. Entry and Distance are only meaningful
// when Matched is true.
type Result struct {
	Matched  bool
	Entry    gallery.Entry
	Distance float64
}

// Identify returns the nearest entry of snap if its distance to probe is
// within tolerance. The global minimum always wins; on equal distances the
// entry with the lowest snapshot position is chosen. An empty snapshot or an
// invalid probe (wrong dimension, NaN or Inf components) yields no match.
func Identify(snap *gallery.Snapshot, probe embedding.Embedding, tolerance float64) Result {
	if snap == nil || snap.Len() == 0 || probe.Validate() != nil {
		return Result{}
	}

	best := -1
	bestDist := 0.0
	for i := range snap.Len() {
		d := embedding.Distance(probe, snap.At(i).Embedding)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}

	if !(bestDist <= tolerance) {
		return Result{Distance: bestDist}
	}
	return Result{Matched: true, Entry: snap.At(best), Distance: bestDist}
}

// Matcher binds Identify to a gallery and a fixed tolerance.
type Matcher struct {
	gallery   *gallery.Gallery
	tolerance float64
}

// New returns a Matcher over g. A negative tolerance selects DefaultTolerance.
func New(g *gallery.Gallery, tolerance float64) *Matcher {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	return &Matcher{gallery: g, tolerance: tolerance}
}

// Tolerance returns the configured tolerance.
func (m *Matcher) Tolerance() float64 { return m.tolerance }

// Identify matches probe against the gallery's current snapshot.
func (m *Matcher) Identify(probe embedding.Embedding) Result {
	return Identify(m.gallery.Snapshot(), probe, m.tolerance)
}

// Rank returns the k closest enrolled identities with exact distances,
// regardless of tolerance. It is meant for diagnostics; use Identify for
// decisions.
func (m *Matcher) Rank(probe embedding.Embedding, k int) []gallery.Candidate {
	return m.gallery.Nearest(probe, k)
}

// Within reports whether a candidate is inside the matcher's tolerance.
func (m *Matcher) Within(c gallery.Candidate) bool {
	return c.Distance <= m.tolerance
}
