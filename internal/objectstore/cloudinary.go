package objectstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const cloudinaryBaseURL = "https://api.cloudinary.com/v1_1"

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	// Folder prefixes every upload folder.
	Folder string
	// BaseURL overrides the API endpoint. Tests only.
	BaseURL string
	Timeout time.Duration
}

// Cloudinary uploads through the signed upload API.
type Cloudinary struct {
	client *resty.Client
	cfg    CloudinaryConfig
	now    func() time.Time
}

type cloudinaryUpload struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Bytes     int64  `json:"bytes"`
}

type cloudinaryError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewCloudinary(cfg CloudinaryConfig) *Cloudinary {
	if cfg.BaseURL == "" {
		cfg.BaseURL = cloudinaryBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)
	return &Cloudinary{client: client, cfg: cfg, now: time.Now}
}

func (c *Cloudinary) Put(ctx context.Context, obj Object) (Reference, error) {
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	if folder := path.Join(c.cfg.Folder, obj.Folder); folder != "" && folder != "." {
		params["folder"] = folder
	}
	form := map[string]string{
		"api_key":   c.cfg.APIKey,
		"signature": sign(params, c.cfg.APISecret),
	}
	for k, v := range params {
		form[k] = v
	}

	var (
		result  cloudinaryUpload
		failure cloudinaryError
	)
	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("file", obj.Name, obj.Body).
		SetFormData(form).
		SetResult(&result).
		SetError(&failure).
		Post(fmt.Sprintf("/%s/image/upload", c.cfg.CloudName))
	if err != nil {
		return Reference{}, fmt.Errorf("%w: cloudinary upload: %v", ErrStorage, err)
	}
	if resp.IsError() {
		return Reference{}, fmt.Errorf("%w: cloudinary upload: status %d: %s",
			ErrStorage, resp.StatusCode(), failure.Error.Message)
	}
	if result.SecureURL == "" {
		return Reference{}, fmt.Errorf("%w: cloudinary upload: empty secure_url", ErrStorage)
	}
	return Reference{URL: result.SecureURL, Key: result.PublicID}, nil
}

// sign computes the upload signature: the sorted key=value pairs joined by
// '&', followed by the secret, SHA-1 hex encoded.
func sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "&") + secret))
	return hex.EncodeToString(sum[:])
}
