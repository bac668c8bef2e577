package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// UploadFile writes content to remotePath (absolute) through the files API.
// The endpoint takes a multipart upload rather than JSON, so it bypasses Do.
func (c *Client) UploadFile(ctx context.Context, remotePath string, content []byte) error {
	if !strings.HasPrefix(remotePath, "/") {
		return fmt.Errorf("api: upload path must be absolute: %s", remotePath)
	}
	url := c.BaseURL("files") + "/path" + remotePath

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("content", strings.TrimPrefix(remotePath, "/"))
	if err != nil {
		return fmt.Errorf("api: build upload: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("api: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("api: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: upload %s: %w", remotePath, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	c.log.Debug("file upload", "path", remotePath, "status", resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode, URL: url, Detail: errorDetail(data)}
	}
	return nil
}
