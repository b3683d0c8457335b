package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liblend/internal/config"
	"liblend/internal/models"
)

func testSites() config.Sites {
	return config.Sites{
		Codes: map[string]string{
			"Gangnam": "1",
			"Yongsan": "2",
		},
	}
}

func TestAllocate(t *testing.T) {
	sites := testSites()

	label, err := Allocate(sites, "Economics", "Gangnam", "1")
	require.NoError(t, err)
	assert.Equal(t, "Economics_10001", label)

	label, err = Allocate(sites, "Fiction", "Yongsan", "0042")
	require.NoError(t, err)
	assert.Equal(t, "Fiction_20042", label)
}

func TestAllocateRejectsBadInput(t *testing.T) {
	sites := testSites()

	_, err := Allocate(sites, "Economics", "Nowhere", "1")
	assert.Error(t, err, "unknown site")

	_, err = Allocate(sites, "", "Gangnam", "1")
	assert.Error(t, err, "empty category")

	_, err = Allocate(sites, "Self_Help", "Gangnam", "1")
	assert.Error(t, err, "underscore would break label parsing")

	_, err = Allocate(sites, "Economics", "Gangnam", "12345")
	assert.Error(t, err, "sequence too long")

	_, err = Allocate(sites, "Economics", "Gangnam", "12a")
	assert.Error(t, err, "non-numeric sequence")
}

func TestParseRoundTrip(t *testing.T) {
	sites := testSites()

	label, err := Allocate(sites, "Psychology", "Yongsan", "7")
	require.NoError(t, err)

	parsed, err := Parse(label)
	require.NoError(t, err)
	assert.Equal(t, "Psychology", parsed.Category)
	assert.Equal(t, "2", parsed.SiteCode)
	assert.Equal(t, "0007", parsed.Sequence)
}

func TestParseRejectsMalformedLabels(t *testing.T) {
	for _, label := range []string{"", "Economics", "Economics_1", "Economics_1000x", "_10001", "Economics_100001"} {
		_, err := Parse(label)
		assert.Error(t, err, "label %q", label)
	}
}

func TestValid(t *testing.T) {
	sites := testSites()

	assert.True(t, Valid(sites, "Economics_10001"))
	assert.False(t, Valid(sites, "Economics_90001"), "unconfigured site code")
	assert.False(t, Valid(sites, "Economics10001"))
}

func TestGroupByTitle(t *testing.T) {
	copies := []models.Copy{
		{LabelNumber: "A_10001", TitleKey: "isbn-1", Title: "Alpha", ShelfLocation: "3", Status: models.CopyStatusAvailable},
		{LabelNumber: "A_10002", TitleKey: "isbn-1", Title: "Alpha", ShelfLocation: "5", Status: models.CopyStatusRented},
		{LabelNumber: "A_10003", TitleKey: "isbn-1", Title: "Alpha", ShelfLocation: "3", Status: models.CopyStatusAvailable},
		{LabelNumber: "B_10001", TitleKey: "isbn-2", Title: "Beta", Status: models.CopyStatusRequested},
		{LabelNumber: "C_10001", TitleKey: "isbn-3", Title: "Gone", Status: models.CopyStatusDeleted},
	}

	groups := GroupByTitle(copies)
	require.Len(t, groups, 2, "deleted copies are not in the catalog")

	alpha := groups[0]
	assert.Equal(t, "isbn-1", alpha.TitleKey)
	assert.Equal(t, 3, alpha.TotalCount)
	assert.Equal(t, 2, alpha.AvailableCount)
	assert.Equal(t, []string{"3", "5"}, alpha.Locations, "locations unique and sorted")

	beta := groups[1]
	assert.Equal(t, 1, beta.TotalCount)
	assert.Equal(t, 0, beta.AvailableCount)
}
