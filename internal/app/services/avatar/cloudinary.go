package avatar

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/contactbook/internal/httputil"
)

const (
	defaultCloudinaryAPI      = "https://api.cloudinary.com"
	defaultCloudinaryDelivery = "https://res.cloudinary.com"

	// AvatarSize is the edge length of the stored square avatar.
	AvatarSize = 250

	maxUploadBytes = 10 << 20
)

// CloudinaryConfig holds the account credentials.
type CloudinaryConfig struct {
	CloudName   string
	APIKey      string
	APISecret   string
	BaseURL     string
	DeliveryURL string
}

// Cloudinary uploads images with signed requests and returns a URL of the
// cropped square rendition.
type Cloudinary struct {
	cfg    CloudinaryConfig
	client *httputil.Client
	now    func() time.Time
}

// NewCloudinary validates cfg and returns an uploader.
func NewCloudinary(cfg CloudinaryConfig) (*Cloudinary, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary: cloud name, api key and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCloudinaryAPI
	}
	if cfg.DeliveryURL == "" {
		cfg.DeliveryURL = defaultCloudinaryDelivery
	}
	cfg.DeliveryURL = strings.TrimRight(cfg.DeliveryURL, "/")
	return &Cloudinary{
		cfg:    cfg,
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: cfg.BaseURL, Timeout: time.Minute}),
		now:    time.Now,
	}, nil
}

// Upload stores the image read from r under publicID, overwriting any
// previous upload, and returns the 250x250 fill URL.
func (c *Cloudinary) Upload(ctx context.Context, publicID string, r io.Reader) (string, error) {
	publicID = strings.Trim(publicID, "/ ")
	if publicID == "" {
		return "", errors.New("cloudinary: public id is required")
	}

	data, truncated, err := httputil.ReadAllWithLimit(r, maxUploadBytes)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if truncated {
		return "", fmt.Errorf("cloudinary: image exceeds %d bytes", maxUploadBytes)
	}
	if len(data) == 0 {
		return "", errors.New("cloudinary: empty image")
	}

	params := map[string]string{
		"public_id": publicID,
		"overwrite": "true",
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	body, contentType, err := c.multipartBody(params, data)
	if err != nil {
		return "", err
	}

	path := "/v1_1/" + c.cfg.CloudName + "/image/upload"
	resp, err := c.client.Do(ctx, path, func(ctx context.Context, url string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload: %w", err)
	}
	defer resp.Body.Close()

	raw, _, err := httputil.ReadAllWithLimit(resp.Body, 1<<20)
	if err != nil {
		return "", fmt.Errorf("read cloudinary response: %w", err)
	}
	if resp.StatusCode >= 400 {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("cloudinary upload failed with status %d: %s", resp.StatusCode, msg)
	}

	version := gjson.GetBytes(raw, "version").Int()
	storedID := gjson.GetBytes(raw, "public_id").String()
	if storedID == "" {
		storedID = publicID
	}
	return c.URL(storedID, version), nil
}

// URL builds the delivery URL of the square avatar rendition.
func (c *Cloudinary) URL(publicID string, version int64) string {
	parts := []string{
		c.cfg.DeliveryURL,
		c.cfg.CloudName,
		"image/upload",
		fmt.Sprintf("c_fill,h_%d,w_%d", AvatarSize, AvatarSize),
	}
	if version > 0 {
		parts = append(parts, "v"+strconv.FormatInt(version, 10))
	}
	parts = append(parts, publicID)
	return strings.Join(parts, "/")
}

func (c *Cloudinary) multipartBody(params map[string]string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for key, value := range params {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("api_key", c.cfg.APIKey); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("signature", Sign(params, c.cfg.APISecret)); err != nil {
		return nil, "", err
	}

	part, err := w.CreateFormFile("file", "avatar")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Sign computes the Cloudinary request signature: the SHA-1 of the
// alphabetically sorted key=value pairs joined by '&', followed by secret.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}
