// Package steam scrapes screenshot data from steamcommunity.com HTML pages.
package steam

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"gamevault/internal/ratelimit"
)

// Privacy bitmask covering private, friends-only and public screenshots.
const privacyFilter = 14

// Pagination safety cap; a profile never has this many grid pages.
const maxGridPages = 200

// Profile is the result of validating a Steam user.
type Profile struct {
	UserID      string
	ProfileName string
	AvatarURL   string
	IsNumericID bool
	ProfileURL  string
}

// GameInfo is one entry from the screenshots page game selector.
type GameInfo struct {
	AppID           int64
	Name            string
	ScreenshotCount int
}

// ScreenshotRef identifies one screenshot discovered on a grid page. The
// detail fields are filled in by FetchDetails.
type ScreenshotRef struct {
	SteamID      string
	DetailURL    string
	ThumbURL     string
	FullImageURL string
	Description  string
	TakenAt      *time.Time
}

// Scraper walks a single user's Steam Community screenshot pages. One
// scraper per import session; the shared limiter gates every request.
type Scraper struct {
	creds   Credentials
	client  *client
	baseURL string
}

func NewScraper(creds Credentials, limiter *ratelimit.Limiter) *Scraper {
	return &Scraper{
		creds:   creds,
		client:  newClient(creds, limiter),
		baseURL: communityURL,
	}
}

func (s *Scraper) profileURL() string {
	if s.creds.Numeric() {
		return fmt.Sprintf("%s/profiles/%s", s.baseURL, s.creds.UserID)
	}
	return fmt.Sprintf("%s/id/%s", s.baseURL, url.PathEscape(s.creds.UserID))
}

// getDoc fetches a page and parses it, transparently replaying through the
// mature-content interstitial when one appears.
func (s *Scraper) getDoc(ctx context.Context, rawURL string) (*goquery.Document, error) {
	const op = "steam.getDoc"

	body, _, err := s.client.fetch(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindParse, op, err)
	}

	if isAgeGate(doc) {
		form := url.Values{
			"sessionid":            {s.creds.SessionID},
			"wants_mature_content": {"1"},
		}
		body, _, err = s.client.fetch(ctx, http.MethodPost, rawURL, form)
		if err != nil {
			return nil, err
		}
		doc, err = goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, newError(KindParse, op, err)
		}
	}
	return doc, nil
}

func isAgeGate(doc *goquery.Document) bool {
	return doc.Find("#agecheck_form, .agegate_text_container, #age_gate").Length() > 0
}

// ── Profile validation ───────────────────────────────────────────────────────

// ValidateProfile checks that the profile exists and is readable with the
// supplied credentials.
func (s *Scraper) ValidateProfile(ctx context.Context) (*Profile, error) {
	const op = "steam.ValidateProfile"

	doc, err := s.getDoc(ctx, s.profileURL())
	if err != nil {
		return nil, err
	}

	if doc.Find(".error_ctn").Length() > 0 {
		return nil, newError(KindNotFound, op, fmt.Errorf("profile not found or private"))
	}

	name := strings.TrimSpace(doc.Find(".actual_persona_name").First().Text())
	if name == "" {
		return nil, newError(KindParse, op, fmt.Errorf("profile page missing persona name"))
	}
	avatar, _ := doc.Find(".playerAvatarAutoSizeInner img").First().Attr("src")

	return &Profile{
		UserID:      s.creds.UserID,
		ProfileName: name,
		AvatarURL:   avatar,
		IsNumericID: s.creds.Numeric(),
		ProfileURL:  s.profileURL(),
	}, nil
}

// ── Game discovery ───────────────────────────────────────────────────────────

var appIDRe = regexp.MustCompile(`appid=(\d+)`)

// DiscoverGames parses the screenshots landing page game selector. Counts
// are what Steam advertises; the pipeline treats them as advisory.
func (s *Scraper) DiscoverGames(ctx context.Context) ([]GameInfo, error) {
	const op = "steam.DiscoverGames"

	pageURL := fmt.Sprintf(
		"%s/screenshots/?appid=0&sort=newestfirst&browsefilter=myfiles&view=grid&privacy=%d",
		s.profileURL(), privacyFilter)

	doc, err := s.getDoc(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	var games []GameInfo
	seen := make(map[int64]bool)

	doc.Find(".screenshot_filter_app, [data-appid]").Each(func(_ int, sel *goquery.Selection) {
		appID := extractAppID(sel)
		if appID == 0 || seen[appID] {
			return
		}

		name := strings.TrimSpace(sel.Find(".screenshot_filter_app_name, .gameName").First().Text())
		if name == "" {
			name = strings.TrimSpace(sel.Find("a").First().Text())
		}
		if name == "" {
			name = fmt.Sprintf("App %d", appID)
		}

		count := 0
		countText := sel.Find(".screenshot_filter_app_count, .gameCount").First().Text()
		if m := regexp.MustCompile(`(\d+)`).FindString(strings.ReplaceAll(countText, ",", "")); m != "" {
			count, _ = strconv.Atoi(m)
		}

		seen[appID] = true
		games = append(games, GameInfo{AppID: appID, Name: name, ScreenshotCount: count})
	})

	if len(games) == 0 {
		return nil, newError(KindParse, op, fmt.Errorf("no games found in screenshot filter"))
	}
	return games, nil
}

func extractAppID(sel *goquery.Selection) int64 {
	if v, ok := sel.Attr("data-appid"); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			return id
		}
	}
	href, _ := sel.Find("a").First().Attr("href")
	if m := appIDRe.FindStringSubmatch(href); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		return id
	}
	return 0
}

// ── Screenshot enumeration ───────────────────────────────────────────────────

var screenshotIDRe = regexp.MustCompile(`id=(\d+)`)

// EnumerateScreenshots walks the paginated grid for one game. Enumeration
// stops when a page yields zero new screenshot ids.
func (s *Scraper) EnumerateScreenshots(ctx context.Context, appID int64) ([]ScreenshotRef, error) {
	var all []ScreenshotRef
	seen := make(map[string]bool)

	for page := 1; page <= maxGridPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageURL := fmt.Sprintf(
			"%s/screenshots/?appid=%d&sort=newestfirst&browsefilter=myfiles&view=grid&privacy=%d&p=%d",
			s.profileURL(), appID, privacyFilter, page)

		doc, err := s.getDoc(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		fresh := 0
		for _, ref := range parseGridPage(doc) {
			if seen[ref.SteamID] {
				continue
			}
			seen[ref.SteamID] = true
			all = append(all, ref)
			fresh++
		}
		if fresh == 0 {
			break
		}
	}
	return all, nil
}

func parseGridPage(doc *goquery.Document) []ScreenshotRef {
	var refs []ScreenshotRef

	doc.Find("a[href*='filedetails']").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		m := screenshotIDRe.FindStringSubmatch(href)
		if m == nil {
			return
		}

		thumb, ok := sel.Find("img").First().Attr("src")
		if !ok {
			thumb, _ = sel.Find("img").First().Attr("data-src")
		}

		refs = append(refs, ScreenshotRef{
			SteamID:      m[1],
			DetailURL:    href,
			ThumbURL:     thumb,
			FullImageURL: stripQuery(thumb),
		})
	})
	return refs
}

// stripQuery removes resize parameters from a CDN thumbnail URL; the bare
// path serves the full-size image.
func stripQuery(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// ── Screenshot detail page ───────────────────────────────────────────────────

// FetchDetails loads a screenshot's detail page for the full-resolution URL,
// the user description, and the taken date.
func (s *Scraper) FetchDetails(ctx context.Context, ref *ScreenshotRef) error {
	detailURL := ref.DetailURL
	if !strings.HasPrefix(detailURL, "http") {
		detailURL = s.baseURL + detailURL
	}

	doc, err := s.getDoc(ctx, detailURL)
	if err != nil {
		return err
	}

	if src, ok := doc.Find(".actualmediactn a img, .screenshotActualSize img, #ActualMedia img").First().Attr("src"); ok && src != "" {
		ref.FullImageURL = stripQuery(src)
	}
	if ref.FullImageURL == "" {
		if href, ok := doc.Find(".actualmediactn a, a[href*='ugc']").First().Attr("href"); ok {
			if strings.Contains(href, "ugc") || strings.Contains(href, "akamaihd.net") {
				ref.FullImageURL = stripQuery(href)
			}
		}
	}

	if desc := strings.TrimSpace(doc.Find(".screenshotDescription, .nonSelectedScreenshotDescription").First().Text()); desc != "" {
		ref.Description = desc
	}

	doc.Find(".detailsStatsContainerRight .detailsStatRight, .screenshotDate").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if t := parseSteamDate(strings.TrimSpace(sel.Text())); t != nil {
			ref.TakenAt = t
			return false
		}
		return true
	})

	return nil
}

// Steam renders dates in several regional layouts.
var steamDateLayouts = []string{
	"Jan 2, 2006 @ 3:04pm",
	"Jan 2, 2006, 3:04pm",
	"2 Jan, 2006 @ 3:04pm",
	"2 Jan, 2006, 3:04pm",
	"Jan 2, 2006 @ 3:04 pm",
	"2 Jan, 2006 @ 3:04 pm",
	"Jan 2, 2006 @ 3:04PM",
	"2 Jan, 2006 @ 3:04PM",
}

func parseSteamDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	cleaned := strings.Join(strings.Fields(raw), " ")
	for _, layout := range steamDateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return &t
		}
	}
	return nil
}

// ── Image download ───────────────────────────────────────────────────────────

// DownloadImage streams the full-resolution image and returns the bytes plus
// the reported content type.
func (s *Scraper) DownloadImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	const op = "steam.DownloadImage"

	if rawURL == "" {
		return nil, "", newError(KindParse, op, fmt.Errorf("empty image URL"))
	}

	body, ctype, err := s.client.fetch(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	if !strings.Contains(ctype, "image") && len(body) < minImageBytes {
		return nil, "", newError(KindParse, op, fmt.Errorf("response is not an image (%s, %d bytes)", ctype, len(body)))
	}
	return body, ctype, nil
}
