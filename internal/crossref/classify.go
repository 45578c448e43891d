package crossref

import (
	"strings"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
)

// Classifier decides the relationship type between an insight and a
// candidate found similar to it.
type Classifier interface {
	Classify(insight, candidate *models.Insight, similarity float64) models.RelationshipType
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(insight, candidate *models.Insight, similarity float64) models.RelationshipType

func (f ClassifierFunc) Classify(insight, candidate *models.Insight, similarity float64) models.RelationshipType {
	return f(insight, candidate, similarity)
}

var (
	prerequisiteCues = []string{"requires", "depends on", "must first", "before"}
	alternativeCues  = []string{"alternative", "instead", "another way"}
	complementCues   = []string{"complement", "works with", "pairs with"}
)

// KeywordClassifier looks for cue phrases in the candidate's description.
// Without a cue, a strictly newer candidate more similar than
// SupersedeSimilarity supersedes the insight; anything else is similar.
type KeywordClassifier struct {
	SupersedeSimilarity float64
}

func (k KeywordClassifier) Classify(insight, candidate *models.Insight, similarity float64) models.RelationshipType {
	desc := strings.ToLower(candidate.Description)
	switch {
	case containsAny(desc, prerequisiteCues):
		return models.RelPrerequisite
	case containsAny(desc, alternativeCues):
		return models.RelAlternative
	case containsAny(desc, complementCues):
		return models.RelComplement
	case candidate.CreatedAt > insight.CreatedAt && similarity > k.SupersedeSimilarity:
		return models.RelSupersedes
	default:
		return models.RelSimilar
	}
}

func containsAny(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}
