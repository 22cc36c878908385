package sources

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("SteamAutoCracks/ManifestHub")
	require.NoError(t, err)
	assert.Equal(t, "SteamAutoCracks", owner)
	assert.Equal(t, "ManifestHub", name)

	for _, bad := range []string{"", "noslash", "/name", "owner/"} {
		_, _, err := splitRepo(bad)
		assert.Error(t, err, "splitRepo(%q)", bad)
	}
}

func TestManifestFileRe(t *testing.T) {
	m := manifestFileRe.FindStringSubmatch("441_7891011.manifest")
	require.NotNil(t, m)
	assert.Equal(t, "441", m[1])
	assert.Equal(t, "7891011", m[2])

	assert.Nil(t, manifestFileRe.FindStringSubmatch("Key.vdf"))
	assert.Nil(t, manifestFileRe.FindStringSubmatch("441.manifest"))
	assert.Nil(t, manifestFileRe.FindStringSubmatch("441_abc.manifest"))
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	_, ok := retryAfter(h)
	assert.False(t, ok)

	h.Set("Retry-After", "120")
	d, ok := retryAfter(h)
	require.True(t, ok)
	assert.InDelta(t, float64(120*time.Second), float64(d), float64(2*time.Second))

	// A date in the past clamps to zero instead of going negative.
	h.Set("Retry-After", time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat))
	d, ok = retryAfter(h)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), d)
}
