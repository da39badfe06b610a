// Package robots fetches, parses, and evaluates robots.txt files.
package robots

import (
	"bufio"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Rule is one Allow or Disallow directive from a relevant group.
type Rule struct {
	Pattern string
	Allow   bool
}

// Policy is the parsed view of a robots.txt for one user agent. The zero
// value allows everything.
type Policy struct {
	Rules      []Rule
	Sitemaps   []string
	CrawlDelay time.Duration
}

// Parse reads robots.txt content. Path rules are kept only from groups whose
// user-agent is "*" or matches userAgent case-insensitively as a substring.
// Sitemap directives are collected from every line regardless of group.
func Parse(body, userAgent string) *Policy {
	p := &Policy{}
	agent := strings.ToLower(strings.TrimSpace(userAgent))
	seenSitemaps := make(map[string]struct{})

	relevant := false
	inAgentLines := false
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		key, value, ok := splitDirective(scanner.Text())
		if !ok {
			continue
		}
		switch key {
		case "user-agent":
			if !inAgentLines {
				relevant = false
			}
			inAgentLines = true
			if agentMatches(strings.ToLower(value), agent) {
				relevant = true
			}
		case "allow", "disallow":
			inAgentLines = false
			if relevant && value != "" {
				p.Rules = append(p.Rules, Rule{Pattern: value, Allow: key == "allow"})
			}
		case "crawl-delay":
			inAgentLines = false
			if !relevant {
				continue
			}
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
				delay := time.Duration(secs * float64(time.Second))
				if delay > p.CrawlDelay {
					p.CrawlDelay = delay
				}
			}
		case "sitemap":
			if value == "" {
				continue
			}
			if _, dup := seenSitemaps[value]; dup {
				continue
			}
			seenSitemaps[value] = struct{}{}
			p.Sitemaps = append(p.Sitemaps, value)
		}
	}
	return p
}

func splitDirective(line string) (key, value string, ok bool) {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(line[:idx]))
	value = strings.TrimSpace(line[idx+1:])
	return key, value, true
}

// agentMatches reports whether a User-agent line names agent: "*" or a token
// contained in the configured agent string.
func agentMatches(groupAgent, agent string) bool {
	if groupAgent == "*" {
		return true
	}
	if groupAgent == "" || agent == "" {
		return false
	}
	return strings.Contains(agent, groupAgent)
}

// Allowed reports whether target may be fetched. target is either a path
// ("/docs?page=2") or an absolute URL. Among matching rules the one with the
// longest pattern wins; on a tie Allow wins. No match means allowed.
func (p *Policy) Allowed(target string) bool {
	if p == nil || len(p.Rules) == 0 {
		return true
	}
	path := requestPath(target)
	best := -1
	allowed := true
	for _, rule := range p.Rules {
		if !matchPattern(rule.Pattern, path) {
			continue
		}
		length := len(rule.Pattern)
		if length > best || (length == best && rule.Allow) {
			best = length
			allowed = rule.Allow
		}
	}
	return allowed
}

func requestPath(target string) string {
	if strings.HasPrefix(target, "/") {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "/"
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}

// matchPattern implements robots.txt wildcard matching: "*" matches any
// sequence and a trailing "$" anchors the end of the path. Patterns are
// otherwise prefix matches.
func matchPattern(pattern, path string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = strings.TrimSuffix(pattern, "$")
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	pos := len(parts[0])
	if len(parts) == 1 {
		return !anchored || pos == len(path)
	}
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}
	last := parts[len(parts)-1]
	if anchored {
		return len(path)-len(last) >= pos && strings.HasSuffix(path, last)
	}
	return strings.Contains(path[pos:], last)
}
