package library_test

import (
	"image"
	"image/color"
	_ "image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gamevault/internal/library"
)

func TestFolderName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Half-Life 2", "half-life-2"},
		{"punctuation collapses", "S.T.A.L.K.E.R.: Shadow of Chernobyl", "s-t-a-l-k-e-r-shadow-of-chernobyl"},
		{"unicode stripped", "NieR:Automata™", "nier-automata"},
		{"empty", "", "unknown"},
		{"only symbols", "!!!", "unknown"},
		{"no leading or trailing dash", "  Portal  ", "portal"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := library.FolderName(tc.in); got != tc.want {
				t.Errorf("FolderName(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}

	t.Run("length bounded", func(t *testing.T) {
		got := library.FolderName(strings.Repeat("a", 200))
		if len(got) > 64 {
			t.Errorf("folder name length = %d, want <= 64", len(got))
		}
	})
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`shot<>:"/\|?*.png`, "shot.png"},
		{"trailing dots...", "trailing dots"},
		{"", "unnamed"},
		{"CON.jpg", "_CON.jpg"},
		{"normal name.jpg", "normal name.jpg"},
	}
	for _, tc := range cases {
		if got := library.SanitizeFilename(tc.in); got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWriteFile(t *testing.T) {
	t.Run("creates directories and writes atomically", func(t *testing.T) {
		lib := library.New(t.TempDir())
		dest := lib.OriginalPath("portal", "shot.png")

		if err := lib.WriteFile(dest, []byte("payload")); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		data, err := os.ReadFile(dest)
		if err != nil {
			t.Fatalf("reading back: %v", err)
		}
		if string(data) != "payload" {
			t.Errorf("content = %q, want %q", data, "payload")
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		lib := library.New(t.TempDir())
		dest := lib.OriginalPath("portal", "shot.png")
		if err := lib.WriteFile(dest, []byte("x")); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		entries, err := os.ReadDir(filepath.Dir(dest))
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".gv-") {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})
}

func TestUniqueFilename(t *testing.T) {
	lib := library.New(t.TempDir())
	hash := "deadbeefcafe0123"

	t.Run("no collision keeps name", func(t *testing.T) {
		got := lib.UniqueFilename("portal", "shot.png", hash)
		if got != "shot.png" {
			t.Errorf("got %q, want shot.png", got)
		}
	})

	t.Run("collision appends hash prefix", func(t *testing.T) {
		if err := lib.WriteFile(lib.OriginalPath("portal", "shot.png"), []byte("x")); err != nil {
			t.Fatal(err)
		}
		got := lib.UniqueFilename("portal", "shot.png", hash)
		if got != "shot_deadbeef.png" {
			t.Errorf("got %q, want shot_deadbeef.png", got)
		}
	})
}

func TestGenerateThumbnails(t *testing.T) {
	newImage := func(w, h int) image.Image {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for x := 0; x < w; x += 10 {
			for y := 0; y < h; y++ {
				img.Set(x, y, color.RGBA{R: 200, A: 255})
			}
		}
		return img
	}

	t.Run("writes both sizes under thumbs", func(t *testing.T) {
		lib := library.New(t.TempDir())
		sm, md, err := lib.GenerateThumbnails(newImage(1920, 1080), "portal", "shot", 85)
		if err != nil {
			t.Fatalf("GenerateThumbnails() error = %v", err)
		}

		if sm != "portal/thumbs/shot_sm.jpg" {
			t.Errorf("sm path = %q", sm)
		}
		if md != "portal/thumbs/shot_md.jpg" {
			t.Errorf("md path = %q", md)
		}
		for _, rel := range []string{sm, md} {
			if _, err := os.Stat(lib.AbsPath(rel)); err != nil {
				t.Errorf("thumbnail missing: %v", err)
			}
		}
	})

	t.Run("never upscales small images", func(t *testing.T) {
		lib := library.New(t.TempDir())
		// 320x200 is below both thumbnail targets.
		sm, md, err := lib.GenerateThumbnails(newImage(320, 200), "portal", "tiny", 85)
		if err != nil {
			t.Fatalf("GenerateThumbnails() error = %v", err)
		}
		for _, rel := range []string{sm, md} {
			fh, err := os.Open(lib.AbsPath(rel))
			if err != nil {
				t.Fatalf("thumbnail missing: %v", err)
			}
			cfg, _, err := image.DecodeConfig(fh)
			fh.Close()
			if err != nil {
				t.Fatalf("decoding %s: %v", rel, err)
			}
			if cfg.Width != 320 || cfg.Height != 200 {
				t.Errorf("%s = %dx%d, want 320x200", rel, cfg.Width, cfg.Height)
			}
		}
	})
}
