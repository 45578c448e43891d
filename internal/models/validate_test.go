package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateValidate(t *testing.T) {
	ok := InsightCandidate{Title: "Setup", Description: "Configure it", Category: "tools"}
	require.NoError(t, ok.Validate())
	assert.Equal(t, 1.0, ok.ConfidenceValue())

	cases := map[string]InsightCandidate{
		"title":       {Description: "d", Category: "c"},
		"description": {Title: "t", Description: "   ", Category: "c"},
		"category":    {Title: "t", Description: "d"},
		"confidence":  {Title: "t", Description: "d", Category: "c", Confidence: Float(1.5)},
	}
	for field, c := range cases {
		err := c.Validate()
		require.Error(t, err, field)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, field, verr.Field)
	}
}

func TestValidateRelationship(t *testing.T) {
	assert.NoError(t, ValidateRelationship("a", "b", RelSimilar, 0.4))
	assert.True(t, IsValidation(ValidateRelationship("a", "a", RelSimilar, 0.4)))
	assert.True(t, IsValidation(ValidateRelationship("a", "b", "friend", 0.4)))
	assert.True(t, IsValidation(ValidateRelationship("a", "b", RelSimilar, 1.2)))
	assert.True(t, IsValidation(ValidateRelationship("", "b", RelSimilar, 0.4)))
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"gmail", "mcp"}, NormalizeTags([]string{" mcp", "gmail", "mcp", ""}))
	assert.Equal(t, []string{"a", "b", "c"}, UnionTags([]string{"b", "a"}, []string{"c", "a"}))
	assert.Equal(t, []string{}, NormalizeTags(nil))
}
