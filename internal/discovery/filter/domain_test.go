package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"docs.example.com":  "example.com",
		"EXAMPLE.com":       "example.com",
		"a.b.example.co.uk": "example.co.uk",
		"127.0.0.1":         "127.0.0.1",
		"localhost":         "localhost",
		"blog.example.com.": "example.com",
	}
	for in, want := range cases {
		require.Equal(t, want, RegistrableDomain(in), in)
	}
}

func TestDomainSameDomainOnly(t *testing.T) {
	t.Parallel()

	d := NewDomain("https://www.example.com/start", true, nil)

	require.True(t, d.Allow("https://docs.example.com/page"))
	require.True(t, d.Allow("http://example.com/"))
	require.False(t, d.Allow("https://other.org/page"))
	require.False(t, d.Allow("mailto:someone@example.com"))
}

func TestDomainCrossDomainAllowed(t *testing.T) {
	t.Parallel()

	d := NewDomain("https://example.com", false, nil)
	require.True(t, d.Allow("https://other.org/page"))
}

func TestDomainBlocklist(t *testing.T) {
	t.Parallel()

	d := NewDomain("https://example.com", false, []string{
		"ads.example.com",
		"*.tracker.net",
		".cdn.io",
		" ",
	})

	require.False(t, d.Allow("https://ads.example.com/x"))
	require.True(t, d.Allow("https://www.example.com/x"))
	require.False(t, d.Allow("https://a.tracker.net/x"))
	require.False(t, d.Allow("https://tracker.net/x"))
	require.False(t, d.Allow("https://img.cdn.io/x"))
	require.True(t, d.Allow("https://cdn.iox.com/x"))
}

func TestNilDomainAllows(t *testing.T) {
	t.Parallel()

	var d *Domain
	require.True(t, d.Allow("https://anything.example"))
}
