// Package evidence persists screenshots captured during submissions and
// listing checks. Files go to a Supabase storage bucket when one is
// configured, otherwise under DATA_DIR/evidence and are served from /files.
package evidence

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antoineross/supabase-go"
	storage_go "github.com/supabase-community/storage-go"

	"dirsubmit/internal/logger"
)

type Config struct {
	AppEnv         string
	DataDir        string
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string
}

func (c Config) supabaseConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseKey != "" && c.SupabaseBucket != ""
}

// Store saves evidence files and returns a reference suitable for a result
// payload.
type Store struct {
	cfg      Config
	log      *logger.Logger
	supabase *supabase.Client
	now      func() time.Time
}

func New(cfg Config) (*Store, error) {
	s := &Store{cfg: cfg, log: logger.New("EvidenceStore"), now: time.Now}

	if cfg.AppEnv == "production" && !cfg.supabaseConfigured() {
		return nil, fmt.Errorf("production environment requires SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY and SUPABASE_STORAGE_BUCKET")
	}
	if cfg.supabaseConfigured() {
		client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, nil)
		if err != nil {
			if cfg.AppEnv == "production" {
				return nil, fmt.Errorf("init supabase client: %w", err)
			}
			s.log.LogWarnf("supabase client unavailable, using local evidence storage: %v", err)
		} else {
			s.supabase = client
		}
	}
	return s, nil
}

// LocalDir is where files are written when no bucket is used.
func (s *Store) LocalDir() string { return filepath.Join(s.cfg.DataDir, "evidence") }

// Save stores one screenshot for pageURL under label. The returned reference
// is a bucket path ("<bucket>/evidence/<name>") or a local "/files/evidence/<name>" URL.
func (s *Store) Save(ctx context.Context, data []byte, label, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%s.png", s.now().UTC().Format("20060102_150405.000"), sanitize(label), sanitize(pageURL))

	if s.supabase != nil {
		objectPath := "evidence/" + name
		contentType := mime.TypeByExtension(".png")
		upsert := true
		_, err := s.supabase.Storage.UploadFile(s.cfg.SupabaseBucket, objectPath, bytes.NewReader(data),
			storage_go.FileOptions{ContentType: &contentType, Upsert: &upsert})
		if err == nil {
			return s.cfg.SupabaseBucket + "/" + objectPath, nil
		}
		if s.cfg.AppEnv == "production" {
			return "", fmt.Errorf("upload evidence: %w", err)
		}
		s.log.LogWarnf("supabase upload failed, falling back to local storage: %v", err)
	}

	if err := os.MkdirAll(s.LocalDir(), 0o755); err != nil {
		return "", fmt.Errorf("create evidence dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.LocalDir(), name), data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence: %w", err)
	}
	return "/files/evidence/" + name, nil
}

func sanitize(u string) string {
	u = strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	replacer := strings.NewReplacer(":", "-", "/", "-", "?", "-", "&", "-", "=", "-", "#", "-", "%", "", " ", "-", "\\", "-")
	out := replacer.Replace(u)
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
