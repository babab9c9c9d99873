package steam

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gamevault/internal/ratelimit"
)

func testScraper(t *testing.T, handler http.Handler) (*Scraper, *ratelimit.Limiter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	limiter := ratelimit.NewLimiter(time.Millisecond)
	s := NewScraper(Credentials{UserID: "76561198000000001", SessionID: "sess123"}, limiter)
	s.baseURL = srv.URL
	return s, limiter
}

const profileHTML = `<html><body>
<div class="playerAvatarAutoSizeInner"><img src="https://avatars.example/a.jpg"></div>
<span class="actual_persona_name">Gordon</span>
</body></html>`

const errorHTML = `<html><body><div class="error_ctn">The specified profile could not be found.</div></body></html>`

const gamesHTML = `<html><body>
<div class="screenshot_filter_app" data-appid="220">
  <a href="?appid=220"><div class="screenshot_filter_app_name">Half-Life 2</div></a>
  <div class="screenshot_filter_app_count">3 screenshots</div>
</div>
<div class="screenshot_filter_app" data-appid="400">
  <a href="?appid=400"><div class="screenshot_filter_app_name">Portal</div></a>
  <div class="screenshot_filter_app_count">1,204</div>
</div>
</body></html>`

func gridHTML(ids ...string) string {
	out := "<html><body>"
	for _, id := range ids {
		out += fmt.Sprintf(
			`<a href="https://steamcommunity.com/sharedfiles/filedetails/?id=%s"><img src="https://cdn.example/ugc/%s/?imw=512&imh=287"></a>`,
			id, id)
	}
	return out + "</body></html>"
}

const detailHTML = `<html><body>
<div class="actualmediactn"><a href="https://cdn.example/ugc/9001/full/"><img src="https://cdn.example/ugc/9001/full/?imw=5000"></a></div>
<div class="screenshotDescription">the citadel at dawn</div>
<div class="detailsStatsContainerRight"><div class="detailsStatRight">Jan 2, 2024 @ 3:41pm</div></div>
</body></html>`

func TestValidateProfile(t *testing.T) {
	t.Run("valid profile", func(t *testing.T) {
		s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, profileHTML)
		}))

		p, err := s.ValidateProfile(context.Background())
		if err != nil {
			t.Fatalf("ValidateProfile() error = %v", err)
		}
		if p.ProfileName != "Gordon" {
			t.Errorf("name = %q, want Gordon", p.ProfileName)
		}
		if p.AvatarURL != "https://avatars.example/a.jpg" {
			t.Errorf("avatar = %q", p.AvatarURL)
		}
		if !p.IsNumericID {
			t.Error("numeric id not detected")
		}
	})

	t.Run("error page", func(t *testing.T) {
		s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, errorHTML)
		}))

		_, err := s.ValidateProfile(context.Background())
		if !IsNotFound(err) {
			t.Errorf("error = %v, want not_found kind", err)
		}
	})

	t.Run("login redirect is auth_required", func(t *testing.T) {
		s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/login" {
				fmt.Fprint(w, "<html>login</html>")
				return
			}
			http.Redirect(w, r, "/login", http.StatusFound)
		}))

		_, err := s.ValidateProfile(context.Background())
		if !IsAuthRequired(err) {
			t.Errorf("error = %v, want auth_required kind", err)
		}
	})
}

func TestDiscoverGames(t *testing.T) {
	s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, gamesHTML)
	}))

	games, err := s.DiscoverGames(context.Background())
	if err != nil {
		t.Fatalf("DiscoverGames() error = %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("got %d games, want 2", len(games))
	}
	if games[0].AppID != 220 || games[0].Name != "Half-Life 2" || games[0].ScreenshotCount != 3 {
		t.Errorf("game[0] = %+v", games[0])
	}
	if games[1].ScreenshotCount != 1204 {
		t.Errorf("comma-grouped count = %d, want 1204", games[1].ScreenshotCount)
	}
}

func TestEnumerateScreenshots(t *testing.T) {
	t.Run("paginates until no new ids", func(t *testing.T) {
		var pages atomic.Int32
		s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pages.Add(1)
			switch r.URL.Query().Get("p") {
			case "1":
				fmt.Fprint(w, gridHTML("9001", "9002"))
			case "2":
				fmt.Fprint(w, gridHTML("9003"))
			default:
				// Steam repeats the last page's content past the end.
				fmt.Fprint(w, gridHTML("9003"))
			}
		}))

		refs, err := s.EnumerateScreenshots(context.Background(), 220)
		if err != nil {
			t.Fatalf("EnumerateScreenshots() error = %v", err)
		}
		if len(refs) != 3 {
			t.Fatalf("got %d refs, want 3", len(refs))
		}
		if refs[0].SteamID != "9001" || refs[2].SteamID != "9003" {
			t.Errorf("refs = %+v", refs)
		}
		// Page 3 yields nothing new, so enumeration stops there.
		if got := pages.Load(); got != 3 {
			t.Errorf("fetched %d pages, want 3", got)
		}
	})

	t.Run("thumbnail query params stripped for full URL", func(t *testing.T) {
		s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("p") == "1" {
				fmt.Fprint(w, gridHTML("42"))
				return
			}
			fmt.Fprint(w, "<html></html>")
		}))

		refs, err := s.EnumerateScreenshots(context.Background(), 220)
		if err != nil {
			t.Fatal(err)
		}
		if refs[0].FullImageURL != "https://cdn.example/ugc/42/" {
			t.Errorf("full URL = %q", refs[0].FullImageURL)
		}
	})
}

func TestFetchDetails(t *testing.T) {
	s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailHTML)
	}))

	ref := ScreenshotRef{SteamID: "9001", DetailURL: "/sharedfiles/filedetails/?id=9001"}
	if err := s.FetchDetails(context.Background(), &ref); err != nil {
		t.Fatalf("FetchDetails() error = %v", err)
	}

	if ref.FullImageURL != "https://cdn.example/ugc/9001/full/" {
		t.Errorf("full URL = %q", ref.FullImageURL)
	}
	if ref.Description != "the citadel at dawn" {
		t.Errorf("description = %q", ref.Description)
	}
	if ref.TakenAt == nil {
		t.Fatal("taken date not parsed")
	}
	if ref.TakenAt.Year() != 2024 || ref.TakenAt.Hour() != 15 || ref.TakenAt.Minute() != 41 {
		t.Errorf("taken at = %v", ref.TakenAt)
	}
}

func TestRetryAndRateLimit(t *testing.T) {
	t.Run("429 inflates limiter then retry succeeds", func(t *testing.T) {
		var calls atomic.Int32
		s, limiter := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprint(w, profileHTML)
		}))

		before := limiter.Interval()
		p, err := s.ValidateProfile(context.Background())
		if err != nil {
			t.Fatalf("ValidateProfile() error = %v", err)
		}
		if p.ProfileName != "Gordon" {
			t.Errorf("name = %q", p.ProfileName)
		}
		if calls.Load() != 2 {
			t.Errorf("calls = %d, want 2", calls.Load())
		}
		// The 429 doubled the interval; the success halves it back. The
		// observable effect here is that it never dropped below the base.
		if limiter.Interval() < before {
			t.Errorf("interval below base after penalty/reward cycle")
		}
	})

	t.Run("5xx retries up to the attempt cap", func(t *testing.T) {
		var calls atomic.Int32
		s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))

		_, err := s.ValidateProfile(context.Background())
		if err == nil {
			t.Fatal("expected error after exhausted retries")
		}
		if calls.Load() != 5 {
			t.Errorf("calls = %d, want 5", calls.Load())
		}
	})

	t.Run("404 is not retried", func(t *testing.T) {
		var calls atomic.Int32
		s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))

		_, err := s.ValidateProfile(context.Background())
		if !IsNotFound(err) {
			t.Errorf("error = %v, want not_found", err)
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})
}

func TestMatureInterstitialReplay(t *testing.T) {
	var posts atomic.Int32
	s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
			if r.FormValue("sessionid") != "sess123" || r.FormValue("wants_mature_content") != "1" {
				t.Errorf("unexpected form: %v", r.Form)
			}
			fmt.Fprint(w, profileHTML)
			return
		}
		fmt.Fprint(w, `<html><body><form id="agecheck_form"></form></body></html>`)
	}))

	p, err := s.ValidateProfile(context.Background())
	if err != nil {
		t.Fatalf("ValidateProfile() through age gate error = %v", err)
	}
	if p.ProfileName != "Gordon" {
		t.Errorf("name = %q", p.ProfileName)
	}
	if posts.Load() != 1 {
		t.Errorf("replay posts = %d, want 1", posts.Load())
	}
}

func TestParseSteamDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Jan 2, 2024 @ 3:41pm", "2024-01-02T15:41"},
		{"2 Jan, 2024 @ 3:41pm", "2024-01-02T15:41"},
		{"Jan 2, 2024, 3:41pm", "2024-01-02T15:41"},
		{"Jan  2,  2024 @ 3:41pm", "2024-01-02T15:41"},
		{"not a date", ""},
		{"", ""},
	}
	for _, tc := range cases {
		got := parseSteamDate(tc.in)
		if tc.want == "" {
			if got != nil {
				t.Errorf("parseSteamDate(%q) = %v, want nil", tc.in, got)
			}
			continue
		}
		if got == nil {
			t.Errorf("parseSteamDate(%q) = nil", tc.in)
			continue
		}
		if got.Format("2006-01-02T15:04") != tc.want {
			t.Errorf("parseSteamDate(%q) = %v, want %s", tc.in, got, tc.want)
		}
	}
}

func TestDownloadImage(t *testing.T) {
	t.Run("returns bytes and content type", func(t *testing.T) {
		payload := make([]byte, 2048)
		s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(payload)
		}))

		data, ctype, err := s.DownloadImage(context.Background(), s.baseURL+"/ugc/1/")
		if err != nil {
			t.Fatalf("DownloadImage() error = %v", err)
		}
		if ctype != "image/jpeg" {
			t.Errorf("content type = %q", ctype)
		}
		if len(data) != 2048 {
			t.Errorf("len = %d, want 2048", len(data))
		}
	})

	t.Run("rejects tiny non-image responses", func(t *testing.T) {
		s, _ := testScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html>nope</html>")
		}))

		if _, _, err := s.DownloadImage(context.Background(), s.baseURL+"/ugc/2/"); !IsParse(err) {
			t.Errorf("error = %v, want parse kind", err)
		}
	})
}
