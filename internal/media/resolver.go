package media

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// Presigner issues time-limited GET URLs for stored objects.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Resolver turns media items into URLs reachable by the analysis service.
type Resolver struct {
	internalBaseURL string
	presigner       Presigner
	urlTTL          time.Duration
}

// NewResolver creates a Resolver. presigner may be nil for local storage.
func NewResolver(internalBaseURL string, presigner Presigner, urlTTL time.Duration) *Resolver {
	return &Resolver{
		internalBaseURL: strings.TrimRight(internalBaseURL, "/"),
		presigner:       presigner,
		urlTTL:          urlTTL,
	}
}

// Inputs is the analysis input built from a car's media.
type Inputs struct {
	ImageURLs []string
	AudioURL  string
}

// URL returns a fetchable URL for m. An absolute stored URL wins; with a presigner and a
// storage key the URL is presigned; otherwise it is served by this backend.
func (r *Resolver) URL(ctx context.Context, m *models.Media) (string, error) {
	if isAbsolute(m.StorageURL) {
		return m.StorageURL, nil
	}
	if r.presigner != nil && m.StorageKey != "" {
		u, err := r.presigner.PresignGet(ctx, m.StorageKey, r.urlTTL)
		if err != nil {
			return "", fmt.Errorf("presign media %s: %w", m.ID, err)
		}
		return u, nil
	}
	if m.FileName == "" {
		return "", fmt.Errorf("media %s has no stored URL or file name", m.ID)
	}
	return fmt.Sprintf("%s/api/cars/%s/media/files/%s/%s/%s",
		r.internalBaseURL, m.CarID, m.CarID, m.Type, url.PathEscape(m.FileName)), nil
}

// Resolve maps uploaded photos to image URLs and the first uploaded video to the audio
// input. Items that fail to resolve are skipped and logged.
func (r *Resolver) Resolve(ctx context.Context, items []*models.Media) Inputs {
	in := Inputs{ImageURLs: []string{}}
	for _, m := range items {
		if m == nil || !m.IsUploaded {
			continue
		}
		u, err := r.URL(ctx, m)
		if err != nil {
			slog.Warn("skipping unresolvable media", "media_id", m.ID, "car_id", m.CarID, "error", err)
			continue
		}
		switch m.Type {
		case models.MediaTypePhoto:
			in.ImageURLs = append(in.ImageURLs, u)
		case models.MediaTypeVideo:
			if in.AudioURL == "" {
				in.AudioURL = u
			}
		}
	}
	return in
}

func isAbsolute(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
