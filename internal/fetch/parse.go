package fetch

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sss97133/nuke-recon/internal/extract"
	"github.com/sss97133/nuke-recon/internal/model"
)

var (
	pricePattern = regexp.MustCompile(`(?i)(?:sold for|winning bid|current bid|high bid|price)[:\s]*(?:USD\s*)?\$\s*([0-9][0-9,]*)`)
	// "sold by Alice to Bob" or "seller: Alice" / "buyer: Bob" fragments.
	soldByToPattern = regexp.MustCompile(`(?i)sold by\s+([A-Za-z0-9_.' -]{2,40}?)\s+to\s+([A-Za-z0-9_.' -]{2,40}?)(?:\s+(?:on|for)\b|[.,]|$)`)
	sellerPattern   = regexp.MustCompile(`(?i)seller[:\s]+([A-Za-z0-9_.' -]{2,40}?)(?:[.,\n]|$)`)
	buyerPattern    = regexp.MustCompile(`(?i)(?:buyer|winner)[:\s]+([A-Za-z0-9_.' -]{2,40}?)(?:[.,\n]|$)`)

	imageExtPattern = regexp.MustCompile(`(?i)\.(jpe?g|png|webp)(\?|$)`)

	nameCaser = cases.Title(language.English)
)

const maxPhotos = 24

// ParseListing turns a marketplace page into a structured listing. It is a
// pure function of the page bytes: no acceptance decisions, no network I/O.
func ParseListing(pageURL, domain string, body []byte) (*model.ScrapedListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "parse: read document")
	}

	listing := &model.ScrapedListing{
		URL:       pageURL,
		Domain:    domain,
		FetchedAt: time.Now().UTC(),
	}

	text := doc.Text()

	// Identifier tokens. Exactly one distinct valid token fills Identifier;
	// more than one leaves it empty and the gate rejects as ambiguous.
	listing.AllIdentifiers = extract.ScanIdentifiers(text)
	if len(listing.AllIdentifiers) == 1 {
		listing.Identifier = listing.AllIdentifiers[0]
	}

	if m := pricePattern.FindStringSubmatch(text); m != nil {
		if p, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			listing.Price = p
		}
	}

	listing.Seller, listing.Buyer = parseParticipants(text)
	listing.PhotoURLs = parsePhotos(doc, pageURL)
	listing.ListedAt, listing.SoldAt = parseDates(doc)

	return listing, nil
}

func parseParticipants(text string) (seller, buyer string) {
	if m := soldByToPattern.FindStringSubmatch(text); m != nil {
		return cleanName(m[1]), cleanName(m[2])
	}
	if m := sellerPattern.FindStringSubmatch(text); m != nil {
		seller = cleanName(m[1])
	}
	if m := buyerPattern.FindStringSubmatch(text); m != nil {
		buyer = cleanName(m[1])
	}
	return seller, buyer
}

// cleanName trims and title-cases a participant name so differently
// capitalized submissions of the same name corroborate each other.
func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return nameCaser.String(strings.ToLower(s))
}

func parsePhotos(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var photos []string
	seen := make(map[string]bool)
	add := func(src string) {
		if len(photos) >= maxPhotos || src == "" {
			return
		}
		u, err := base.Parse(src)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		abs := u.String()
		if !imageExtPattern.MatchString(abs) || seen[abs] {
			return
		}
		seen[abs] = true
		photos = append(photos, abs)
	}

	doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("content", ""))
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("src", ""))
	})

	return photos
}

func parseDates(doc *goquery.Document) (listedAt, soldAt *time.Time) {
	doc.Find("time[datetime]").Each(func(_ int, s *goquery.Selection) {
		ts := parseTimestamp(s.AttrOr("datetime", ""))
		if ts == nil {
			return
		}
		context := strings.ToLower(s.Parent().Text())
		if strings.Contains(context, "sold") || strings.Contains(context, "ended") {
			if soldAt == nil {
				soldAt = ts
			}
			return
		}
		if listedAt == nil {
			listedAt = ts
		}
	})
	return listedAt, soldAt
}

func parseTimestamp(s string) *time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
