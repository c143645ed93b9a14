// Package avatar resolves default avatars and stores uploaded ones.
package avatar

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/contactbook/internal/app/domain/user"
	"github.com/R3E-Network/contactbook/internal/httputil"
)

const gravatarBaseURL = "https://www.gravatar.com"

// GravatarURL returns the Gravatar image URL for email. A size of zero
// leaves the size up to Gravatar.
func GravatarURL(email string, size int) string {
	return gravatarBaseURL + gravatarPath(email, size, "")
}

func gravatarPath(email string, size int, fallback string) string {
	sum := md5.Sum([]byte(user.NormalizeEmail(email)))
	u := "/avatar/" + hex.EncodeToString(sum[:])

	q := url.Values{}
	if size > 0 {
		q.Set("s", strconv.Itoa(size))
	}
	if fallback != "" {
		q.Set("d", fallback)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// Gravatar looks up whether an email has a registered Gravatar.
type Gravatar struct {
	client *httputil.Client
	base   string
}

// NewGravatar creates a resolver. An empty baseURL uses gravatar.com.
func NewGravatar(baseURL string) *Gravatar {
	if baseURL == "" {
		baseURL = gravatarBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Gravatar{
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: baseURL, Timeout: 5 * time.Second, MaxRetries: 1}),
		base:   baseURL,
	}
}

// Resolve returns the avatar URL for email. When Gravatar has no image for
// the address the generic Gravatar URL is still returned so clients get the
// default silhouette; only transport failures are reported as errors.
func (g *Gravatar) Resolve(ctx context.Context, email string) (string, error) {
	resp, err := g.client.Do(ctx, gravatarPath(email, 0, "404"), func(ctx context.Context, url string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	})
	if err != nil {
		return "", fmt.Errorf("gravatar lookup: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusNotFound:
		return g.base + gravatarPath(email, 0, ""), nil
	default:
		return "", fmt.Errorf("gravatar lookup: unexpected status %d", resp.StatusCode)
	}
}
