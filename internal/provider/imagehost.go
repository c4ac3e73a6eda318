package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ImageHost publishes inline images through the upload middleware and
// returns their public URL. It implements Publisher.
type ImageHost struct {
	uploadURL string
	http      *http.Client
}

func NewImageHost(uploadURL string, timeout time.Duration) *ImageHost {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ImageHost{
		uploadURL: uploadURL,
		http:      &http.Client{Timeout: timeout},
	}
}

type uploadResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Publish uploads a data URI (or passes an already-public URL through
// untouched) and returns a fetchable URL.
func (h *ImageHost) Publish(ctx context.Context, dataURI string) (string, error) {
	if strings.HasPrefix(dataURI, "http://") || strings.HasPrefix(dataURI, "https://") {
		return dataURI, nil
	}

	payload, err := json.Marshal(map[string]string{"image": dataURI})
	if err != nil {
		return "", fmt.Errorf("marshal upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.uploadURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.URL == "" {
		if out.Error != "" {
			return "", fmt.Errorf("upload rejected: %s", out.Error)
		}
		return "", fmt.Errorf("upload response missing url")
	}
	return sanitizeURL(out.URL), nil
}
