package crossref

import (
	"strings"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/textutil"
)

// Similarity weights; they sum to 1.
const (
	TitleWeight       = 0.3
	DescriptionWeight = 0.5
	TagWeight         = 0.2
)

// CalculateSimilarity scores two insights in [0, 1]. It is symmetric.
func CalculateSimilarity(a, b *models.Insight) float64 {
	return TitleWeight*TextSimilarity(a.Title, b.Title) +
		DescriptionWeight*TextSimilarity(a.Description, b.Description) +
		TagWeight*TagSimilarity(a.Tags, b.Tags)
}

// TextSimilarity is the Jaccard index over content tokens. Texts with no
// content tokens on either side compare equal only if they match ignoring case.
func TextSimilarity(a, b string) float64 {
	ta, tb := textutil.ContentTokens(a), textutil.ContentTokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
			return 1
		}
		return 0
	}
	return textutil.Jaccard(ta, tb)
}

// TagSimilarity is the Jaccard index over tag sets. Two untagged insights
// agree fully.
func TagSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	return textutil.Jaccard(textutil.Set(a), textutil.Set(b))
}
