package merge

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

const testID = "https://github.com/acme/widget"

func sampleRecords() []models.DiscoveredServer {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return []models.DiscoveredServer{
		{
			CanonicalURL: "https://github.com/Acme/Widget",
			DisplayName:  "acme/widget",
			Description:  "Widget MCP server",
			RepoOwner:    "acme",
			RepoName:     "widget",
			Stars:        500,
			Source:       models.SourceGitHub,
			SourceID:     "12345",
			DiscoveredAt: at,
		},
		{
			CanonicalURL:    "git+https://github.com/acme/widget.git",
			DisplayName:     "@acme/widget-server",
			Version:         "2.1.0",
			PackageRegistry: "npm",
			PackageName:     "@acme/widget-server",
			RunCommand:      "npx -y @acme/widget-server",
			Downloads:       9000,
			Source:          models.SourceNPM,
			SourceID:        "@acme/widget-server",
			DiscoveredAt:    at.Add(time.Hour),
		},
		{
			CanonicalURL: "https://github.com/acme/widget",
			DisplayName:  "Acme Widget",
			Description:  "Official community listing",
			Stars:        10,
			Source:       models.SourceCommunity,
			SourceID:     "acme-widget",
			DiscoveredAt: at.Add(2 * time.Hour),
		},
	}
}

func TestGroup_Deterministic(t *testing.T) {
	records := sampleRecords()
	want := Group(testID, records)

	rng := rand.New(rand.NewSource(42))
	for range 20 {
		shuffled := make([]models.DiscoveredServer, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got := Group(testID, shuffled)
		require.True(t, reflect.DeepEqual(want, got), "merge must be order-insensitive")
	}
}

func TestGroup_PopularityTrustsCodeHost(t *testing.T) {
	// Community reports stars=10 and outranks GitHub for scalar defaults,
	// but popularity always trusts the code host.
	merged := Group(testID, sampleRecords())
	assert.Equal(t, 500, merged.Stars)
}

func TestGroup_PopularityWithAbsentPackageIndexStars(t *testing.T) {
	records := []models.DiscoveredServer{
		{Source: models.SourceGitHub, SourceID: "1", DisplayName: "r", Stars: 500},
		{Source: models.SourceNPM, SourceID: "p", DisplayName: "p", Stars: 0},
	}
	merged := Group(testID, records)
	assert.Equal(t, 500, merged.Stars)
}

func TestGroup_VersionPrefersPackageIndex(t *testing.T) {
	records := sampleRecords()
	records[0].Version = "0.9.0" // github reports a lagging tag

	merged := Group(testID, records)
	assert.Equal(t, "2.1.0", merged.Version)
	assert.Equal(t, "@acme/widget-server", merged.PackageName)
	assert.Equal(t, "npm", merged.PackageRegistry)
}

func TestGroup_ScalarDefaultsFollowPriorityOrder(t *testing.T) {
	merged := Group(testID, sampleRecords())

	// Community outranks github and npm for the scalar seed.
	assert.Equal(t, "Acme Widget", merged.DisplayName)
	assert.Equal(t, "Official community listing", merged.Description)

	// Fields the community record does not define fall through in order.
	assert.Equal(t, "acme", merged.RepoOwner)
	assert.Equal(t, "npx -y @acme/widget-server", merged.RunCommand)
}

func TestGroup_RetainsAllSources(t *testing.T) {
	merged := Group(testID, sampleRecords())

	require.Len(t, merged.Sources, 3)
	assert.Equal(t, models.SourceCommunity, merged.Sources[0].Source)
	assert.Equal(t, models.SourceGitHub, merged.Sources[1].Source)
	assert.Equal(t, models.SourceNPM, merged.Sources[2].Source)
	assert.Equal(t, models.ConformanceUnverified, merged.Conformance)
}
