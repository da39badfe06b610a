package robots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseWildcardGroup(t *testing.T) {
	t.Parallel()

	p := Parse("User-agent: *\nDisallow: /admin/\nSitemap: https://x/sitemap.xml\n", "kbcrawler/1.0")

	require.False(t, p.Allowed("/admin/page"))
	require.True(t, p.Allowed("/blog/page"))
	require.Equal(t, []string{"https://x/sitemap.xml"}, p.Sitemaps)
}

func TestMostSpecificRuleWins(t *testing.T) {
	t.Parallel()

	body := `User-agent: *
Disallow: /
Allow: /public/
Disallow: /public/admin/
`
	p := Parse(body, "kbcrawler")

	cases := map[string]bool{
		"/":                   false,
		"/private":            false,
		"/public/":            true,
		"/public/docs/intro":  true,
		"/public/admin/":      false,
		"/public/admin/users": false,
	}
	for path, want := range cases {
		require.Equal(t, want, p.Allowed(path), path)
	}
}

func TestAllowWinsTie(t *testing.T) {
	t.Parallel()

	p := Parse("User-agent: *\nDisallow: /page\nAllow: /page\n", "bot")
	require.True(t, p.Allowed("/page"))
}

func TestAgentSpecificGroup(t *testing.T) {
	t.Parallel()

	body := `User-agent: OtherBot
Disallow: /

User-agent: KBCrawler
User-agent: Friend
Disallow: /drafts
Crawl-delay: 2

Sitemap: https://example.com/a.xml
Sitemap: https://example.com/a.xml
`
	p := Parse(body, "Mozilla/5.0 (compatible; kbcrawler/1.0)")

	require.True(t, p.Allowed("/"))
	require.False(t, p.Allowed("/drafts/one"))
	require.Equal(t, 2*time.Second, p.CrawlDelay)
	require.Equal(t, []string{"https://example.com/a.xml"}, p.Sitemaps)
}

func TestGroupNamingALongerAgentDoesNotApply(t *testing.T) {
	t.Parallel()

	body := "User-agent: kbcrawler-legacy\nDisallow: /\n"
	p := Parse(body, "kbcrawler")
	require.True(t, p.Allowed("/docs"))

	require.True(t, agentMatches("kbcrawler", "mozilla/5.0 (compatible; kbcrawler/1.0)"))
	require.False(t, agentMatches("kbcrawler-legacy", "kbcrawler"))
	require.True(t, agentMatches("*", "anything"))
}

func TestEmptyDisallowIgnored(t *testing.T) {
	t.Parallel()

	p := Parse("User-agent: *\nDisallow:\n", "bot")
	require.Empty(t, p.Rules)
	require.True(t, p.Allowed("/anything"))
}

func TestPatternMatching(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/docs", "/docs/intro", true},
		{"/docs", "/blog", false},
		{"/*.pdf$", "/files/report.pdf", true},
		{"/*.pdf$", "/files/report.pdf?dl=1", false},
		{"/*/edit", "/pages/12/edit", true},
		{"/exact$", "/exact", true},
		{"/exact$", "/exact/more", false},
		{"/a*b*c", "/axxbyyc", true},
		{"/a*b*c", "/axxcyyb", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, matchPattern(tc.pattern, tc.path), "%s vs %s", tc.pattern, tc.path)
	}
}

func TestAllowedAcceptsFullURL(t *testing.T) {
	t.Parallel()

	p := Parse("User-agent: *\nDisallow: /search?q=\n", "bot")
	require.False(t, p.Allowed("https://example.com/search?q=go"))
	require.True(t, p.Allowed("https://example.com/search"))
}

func TestNilPolicyAllows(t *testing.T) {
	t.Parallel()

	var p *Policy
	require.True(t, p.Allowed("/x"))
}
