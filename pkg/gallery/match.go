package gallery

import (
	"fmt"
	"math"

	"github.com/MrCodeEU/facelocker/pkg/recognition"
)

// Unknown is the label reported when no gallery member is close enough.
const Unknown = "unknown"

// Gallery is the set of enrolled embeddings of one identity.
type Gallery struct {
	Owner      string
	Embeddings []recognition.Embedding
}

// New builds a gallery and enforces the enrollment quorum.
func New(owner string, embeddings []recognition.Embedding, quorum int) (*Gallery, error) {
	if len(embeddings) < quorum {
		return nil, &InsufficientEnrollmentError{Count: len(embeddings), Quorum: quorum}
	}
	return &Gallery{Owner: owner, Embeddings: embeddings}, nil
}

// Len returns the number of embeddings.
func (g *Gallery) Len() int {
	return len(g.Embeddings)
}

// MatchResult is the outcome of comparing one live embedding to a gallery.
type MatchResult struct {
	Label    string
	Distance float64
	Verified bool
	Index    int
}

func (r MatchResult) String() string {
	return fmt.Sprintf("%s (distance %.4f)", r.Label, r.Distance)
}

// Match finds the nearest gallery embedding. The result is verified only
// when that embedding belongs to the owner and its distance is strictly
// below threshold.
func (g *Gallery) Match(live recognition.Embedding, threshold float64) MatchResult {
	best := MatchResult{Label: Unknown, Distance: math.MaxFloat64, Index: -1}

	for i, emb := range g.Embeddings {
		dist := recognition.EuclideanDistance(live.Vector, emb.Vector)
		if dist < best.Distance {
			best.Distance = dist
			best.Index = i
		}
	}

	// Every embedding in a gallery carries the owner's label.
	if best.Index >= 0 && best.Distance < threshold {
		best.Label = g.Owner
		best.Verified = true
	}

	return best
}
