package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FormatInsensitive(t *testing.T) {
	want := "https://github.com/foo/bar"

	for _, raw := range []string{
		"https://github.com/Foo/Bar.git",
		"git@github.com:foo/bar",
		"git+https://github.com/foo/bar.git",
		"git://github.com/FOO/BAR",
		"https://GitHub.com/foo/bar/tree/main/packages/server",
	} {
		got, ok := Normalize(raw)
		require.True(t, ok, "normalize %q", raw)
		assert.Equal(t, want, got, "normalize %q", raw)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	once, ok := Normalize("git@github.com:Acme/Widget.git")
	require.True(t, ok)

	twice, ok := Normalize(once)
	require.True(t, ok)
	assert.Equal(t, once, twice)
}

func TestNormalize_Rejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"not a url",
		"https://github.com/onlyowner",
		"ftp://github.com/foo/bar",
		"git@github.com-no-colon/foo/bar",
	} {
		_, ok := Normalize(raw)
		assert.False(t, ok, "expected rejection for %q", raw)
	}
}

func TestSplit(t *testing.T) {
	owner, repo, ok := Split("https://github.com/foo/bar")
	require.True(t, ok)
	assert.Equal(t, "foo", owner)
	assert.Equal(t, "bar", repo)

	_, _, ok = Split("https://github.com/foo")
	assert.False(t, ok)
}
