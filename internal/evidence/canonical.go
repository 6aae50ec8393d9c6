package evidence

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

const defaultMergeTolerance = 300 * time.Second

// trackingParams are query parameters that identify a click, not a
// document. They are stripped before comparing URLs.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
	"ref":    true,
}

var multiSlash = regexp.MustCompile(`/{2,}`)

// Deduplicator normalizes raw candidates and merges near-duplicates.
// Dedup is two-pass: canonical keys are computed into immutable records
// first, then groups are merged without mutating shared state.
type Deduplicator struct {
	tolerance time.Duration
}

// NewDeduplicator creates a deduplicator. A non-positive tolerance selects
// the 300s default.
func NewDeduplicator(tolerance time.Duration) *Deduplicator {
	if tolerance <= 0 {
		tolerance = defaultMergeTolerance
	}
	return &Deduplicator{tolerance: tolerance}
}

// Dedup collapses near-duplicate candidates. Two candidates merge iff
// their canonical URLs, hosts and non-empty title keys all match and their
// publish times are within tolerance. Merging unions the raw URLs seen and
// keeps the earliest publish time; everything else comes from the
// first-seen candidate.
func (d *Deduplicator) Dedup(raw []RawEvidenceCandidate) []CanonicalCandidate {
	canonical := make([]CanonicalCandidate, 0, len(raw))
	for _, rc := range raw {
		canonical = append(canonical, canonicalize(rc))
	}

	var groups []CanonicalCandidate
	for _, c := range canonical {
		idx := -1
		if c.parsed {
			for i := range groups {
				if mergeable(groups[i], c, d.tolerance) {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			groups = append(groups, c)
			continue
		}
		g := &groups[idx]
		if !containsString(g.SourceVariants, c.SourceURL) {
			g.SourceVariants = append(g.SourceVariants, c.SourceURL)
		}
		if c.PublishedAt.Before(g.PublishedAt) {
			g.PublishedAt = c.PublishedAt
		}
	}

	return groups
}

func mergeable(a, b CanonicalCandidate, tolerance time.Duration) bool {
	if !a.parsed || !b.parsed {
		return false
	}
	if a.CanonicalURL != b.CanonicalURL || a.SourceHost != b.SourceHost {
		return false
	}
	if a.TitleKey == "" || a.TitleKey != b.TitleKey {
		return false
	}
	diff := a.PublishedAt.Sub(b.PublishedAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// canonicalize computes the identity keys for one raw candidate. A
// candidate whose URL fails to parse keeps the raw URL as its canonical
// form and is marked unmergeable.
func canonicalize(raw RawEvidenceCandidate) CanonicalCandidate {
	c := CanonicalCandidate{
		RawEvidenceCandidate: raw,
		CanonicalURL:         raw.SourceURL,
		TitleKey:             titleKey(raw),
	}
	if raw.SourceURL != "" {
		c.SourceVariants = []string{raw.SourceURL}
	}

	u, err := url.Parse(raw.SourceURL)
	if err != nil || u.Host == "" || u.Scheme == "" {
		return c
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = stripDefaultPort(host, u.Scheme)
	u.Host = host

	path := multiSlash.ReplaceAllString(u.Path, "/")
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	u.Path = path

	query := u.Query()
	for param := range query {
		if trackingParams[param] || strings.HasPrefix(param, "utm_") {
			query.Del(param)
		}
	}
	u.RawQuery = query.Encode() // Encode sorts the surviving params
	u.Fragment = ""
	u.RawFragment = ""

	c.CanonicalURL = u.String()
	c.SourceHost = host
	c.parsed = true
	return c
}

func stripDefaultPort(host, scheme string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	default:
		return host
	}
}

// titleKey builds the normalized comparison key from the title, falling
// back to the summary. Empty keys never match anything.
func titleKey(raw RawEvidenceCandidate) string {
	text := raw.Title
	if text == "" {
		text = raw.Summary
	}
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
