// Package blob stores media files through a Telegram bot channel. Uploads go
// to a configured chat via the bot API and come back as a stable file id plus
// a download URL. The URL embeds a short-lived file path, so callers should
// persist the file id and refresh the URL with FileURL when a link goes stale.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"log/slog"
)

const defaultBaseURL = "https://api.telegram.org"

// Client talks to the Telegram bot API. The zero value is disabled; use New.
type Client struct {
	botToken string
	chatID   string
	baseURL  string
	http     *http.Client
	logger   *slog.Logger
}

func New(botToken, chatID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  defaultBaseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "blob"),
	}
}

// Enabled reports whether the client has credentials to upload with. When
// false, callers fall back to local file storage.
func (c *Client) Enabled() bool {
	return c != nil && c.botToken != "" && c.chatID != ""
}

// method and file field per media kind. Everything unrecognized ships as a
// document, which Telegram accepts for any content type.
func uploadMethod(kind string) (method, field string) {
	switch kind {
	case "image":
		return "sendPhoto", "photo"
	case "video":
		return "sendVideo", "video"
	default:
		return "sendDocument", "document"
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type messageResult struct {
	Photo    []fileInfo `json:"photo"`
	Video    *fileInfo  `json:"video"`
	Document *fileInfo  `json:"document"`
}

type fileInfo struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// Upload sends the file at path to the storage chat and returns the Telegram
// file id and a direct download URL.
func (c *Client) Upload(ctx context.Context, path, kind string) (fileID, fileURL string, err error) {
	if !c.Enabled() {
		return "", "", fmt.Errorf("blob storage not configured")
	}

	method, field := uploadMethod(kind)

	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("chat_id", c.chatID); err != nil {
		return "", "", err
	}
	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", "", fmt.Errorf("read upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), &body)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result messageResult
	if err := c.do(req, &result); err != nil {
		return "", "", fmt.Errorf("%s: %w", method, err)
	}

	switch {
	case len(result.Photo) > 0:
		// Telegram returns resized variants smallest first; keep the original.
		fileID = result.Photo[len(result.Photo)-1].FileID
	case result.Video != nil:
		fileID = result.Video.FileID
	case result.Document != nil:
		fileID = result.Document.FileID
	default:
		return "", "", fmt.Errorf("%s: response carries no file", method)
	}

	fileURL, err = c.FileURL(ctx, fileID)
	if err != nil {
		return "", "", err
	}

	c.logger.Info("blob uploaded", "kind", kind, "fileID", fileID)
	return fileID, fileURL, nil
}

// FileURL resolves a stored file id to a fresh download URL.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("blob storage not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getFile")+"?file_id="+fileID, nil)
	if err != nil {
		return "", err
	}

	var info fileInfo
	if err := c.do(req, &info); err != nil {
		return "", fmt.Errorf("getFile: %w", err)
	}
	if info.FilePath == "" {
		return "", fmt.Errorf("getFile: empty file path")
	}

	return c.baseURL + "/file/bot" + c.botToken + "/" + info.FilePath, nil
}

// Download streams a stored file. The caller owns the returned body. Used to
// proxy media to clients without exposing the bot token embedded in URLs.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, string, error) {
	url, err := c.FileURL(ctx, fileID)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("download: status %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.botToken + "/" + method
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.OK {
		return fmt.Errorf("api error: %s", envelope.Description)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
