package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/tracing"
)

// FileHost publishes bytes at a URL the generation provider can fetch
type FileHost interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// TmpFilesHost uploads to a tmpfiles-style anonymous host
type TmpFilesHost struct {
	uploadURL  string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTmpFilesHost creates a file host client
func NewTmpFilesHost(uploadURL string, timeout time.Duration, logger *logging.Logger) *TmpFilesHost {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TmpFilesHost{
		uploadURL:  uploadURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Upload posts data as a multipart file and returns its direct-download URL
func (h *TmpFilesHost) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	start := time.Now()
	var publicURL string
	status := 0

	err := tracing.Outbound(ctx, "file_host", "upload", func(ctx context.Context) error {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return fmt.Errorf("failed to write form file: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to close multipart writer: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.uploadURL, &body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := h.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("file host error: status %d, body: %s", resp.StatusCode, string(respBody))
		}

		var result struct {
			Status string `json:"status"`
			URL    string `json:"url"`
			Data   struct {
				URL string `json:"url"`
			} `json:"data"`
		}
		if err := json.Unmarshal(respBody, &result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		raw := result.Data.URL
		if raw == "" {
			raw = result.URL
		}
		publicURL, err = DirectDownloadURL(raw)
		return err
	})

	h.logger.LogProviderCall("file_host", "upload", status, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return publicURL, nil
}

// DirectDownloadURL rewrites a tmpfiles page URL (https://host/123/a.png)
// into its raw-bytes form (https://host/dl/123/a.png).
func DirectDownloadURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("file host returned no URL")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("file host returned an unusable URL: %q", raw)
	}

	u.Scheme = "https"
	if !strings.HasPrefix(u.Path, "/dl/") {
		u.Path = "/dl" + u.Path
	}
	return u.String(), nil
}
