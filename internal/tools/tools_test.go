package tools

import (
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"2024-03-05T10:11:12Z", time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC)},
		{"2024-03-05T10:11:12+02:00", time.Date(2024, 3, 5, 8, 11, 12, 0, time.UTC)},
		{"2024-03-05T10:11:12.000250Z", time.Date(2024, 3, 5, 10, 11, 12, 250000, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseTime("date_from", tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.in, got)
	}

	_, err := parseTime("date_to", "yesterday")
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "date_to", verr.Field)
}

func TestParseUpperBound(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"2024-03-05", time.Date(2024, 3, 5, 23, 59, 59, 999999000, time.UTC)},
		{"2024-12-31", time.Date(2024, 12, 31, 23, 59, 59, 999999000, time.UTC)},
		{"2024-03-05T10:11:12Z", time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseUpperBound("date_to", tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.in, got)
	}

	_, err := parseUpperBound("date_to", "tomorrow")
	assert.True(t, models.IsValidation(err))
}

func TestFilterInput(t *testing.T) {
	f, err := FilterInput{
		Categories: []string{"tools"},
		DateFrom:   "2024-01-01",
		Tags:       []string{"ci"},
	}.filters()
	require.NoError(t, err)
	assert.Equal(t, []string{"tools"}, f.Categories)
	assert.Equal(t, 2024, f.DateFrom.Year())
	assert.True(t, f.DateTo.IsZero())
	assert.False(t, f.Empty())

	f, err = FilterInput{DateFrom: "2024-01-01", DateTo: "2024-01-01"}.filters()
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 1, 1, 23, 59, 59, 999999000, time.UTC).Equal(f.DateTo), "got %v", f.DateTo)
	assert.True(t, f.DateFrom.Before(f.DateTo))

	_, err = FilterInput{DateTo: "soon"}.filters()
	assert.True(t, models.IsValidation(err))
}

func TestStoreOptions(t *testing.T) {
	no, yes := false, true
	assert.Nil(t, storeOptions(nil))
	assert.Nil(t, storeOptions(&yes))
	assert.Len(t, storeOptions(&no), 1)
}

func TestUnjoin(t *testing.T) {
	a, b := errors.New("first"), errors.New("second")
	assert.Equal(t, []string{"first", "second"}, unjoin(errors.Join(a, b)))
	assert.Equal(t, []string{"first"}, unjoin(a))
}

func TestFailure(t *testing.T) {
	res := failure(nil, "Store failed", &models.ValidationError{Field: "title", Reason: "is required"})
	require.True(t, res.IsError)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "Invalid input")

	res = failure(nil, "Merge failed", models.ErrNotFound)
	assert.Equal(t, "Merge failed: not found", res.Content[0].(*mcp.TextContent).Text)
}

func TestToolJSON(t *testing.T) {
	res, out, err := toolJSON(map[string]string{"id": "x"})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"id":"x"}`, res.Content[0].(*mcp.TextContent).Text)

	res, _, _ = toolJSON(func() {})
	assert.True(t, res.IsError)
}
