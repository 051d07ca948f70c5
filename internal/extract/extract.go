// Package extract scans free text for reconciliation candidates: marketplace
// listing URLs and bare identifier-shaped tokens. Pure text analysis, no
// side effects, safe to re-run on the same input.
package extract

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/sss97133/nuke-recon/internal/model"
	"github.com/sss97133/nuke-recon/internal/vin"
)

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	// 17 contiguous characters from the identifier alphabet; candidates are
	// still run through vin.Normalize and dropped silently on failure.
	tokenPattern = regexp.MustCompile(`\b[A-HJ-NPR-Za-hj-npr-z0-9]{17}\b`)
)

// DefaultDomains maps known marketplace domains to base confidence. Curated
// auction sites rank above generic classifieds.
func DefaultDomains() map[string]float64 {
	return map[string]float64{
		"bringatrailer.com":  0.9,
		"mecum.com":          0.85,
		"barrett-jackson.com": 0.85,
		"carsandbids.com":    0.8,
		"hemmings.com":       0.75,
		"ebay.com":           0.6,
		"craigslist.org":     0.5,
	}
}

// Extractor detects candidates in free text against a domain allow-list.
type Extractor struct {
	domains map[string]float64
}

// New creates an Extractor. A nil domain map selects DefaultDomains.
func New(domains map[string]float64) *Extractor {
	if domains == nil {
		domains = DefaultDomains()
	}
	return &Extractor{domains: domains}
}

// Extract returns every candidate found in text, URLs first, then distinct
// identifier tokens. Tokens that fail normalization are discarded silently;
// never surfaced as low-confidence guesses.
func (e *Extractor) Extract(text, entityID, submitterID, origin string) []model.Candidate {
	var out []model.Candidate

	for _, raw := range urlPattern.FindAllString(text, -1) {
		raw = strings.TrimRight(raw, ".,;:")
		_, conf, ok := e.matchDomain(raw)
		if !ok {
			continue
		}
		out = append(out, model.Candidate{
			Kind:        model.SignalURL,
			Span:        raw,
			EntityID:    entityID,
			SubmitterID: submitterID,
			Origin:      origin,
			Confidence:  conf,
		})
	}

	for _, id := range ScanIdentifiers(text) {
		out = append(out, model.Candidate{
			Kind:        model.SignalIdentifierToken,
			Span:        id,
			EntityID:    entityID,
			SubmitterID: submitterID,
			Origin:      origin,
			Identifier:  id,
			Confidence:  model.SourceIdentifierDec.BaseConfidence(),
		})
	}

	return out
}

// ScanIdentifiers returns every distinct valid identifier in text, in order
// of first appearance. Invalid identifier-shaped tokens are skipped.
func ScanIdentifiers(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, tok := range tokenPattern.FindAllString(text, -1) {
		id, err := vin.Normalize(tok)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// DomainConfidence returns the base confidence for a listing URL's domain,
// or false if the domain is not on the allow-list.
func (e *Extractor) DomainConfidence(rawURL string) (string, float64, bool) {
	return e.matchDomain(rawURL)
}

func (e *Extractor) matchDomain(rawURL string) (string, float64, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", 0, false
	}
	host := strings.ToLower(u.Hostname())
	// Longest-suffix match so subdomain listings (e.g. a city subdomain of a
	// classifieds site) resolve to their registered domain.
	domains := make([]string, 0, len(e.domains))
	for d := range e.domains {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return len(domains[i]) > len(domains[j]) })
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return d, e.domains[d], true
		}
	}
	return "", 0, false
}
