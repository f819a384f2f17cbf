package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// httpCaller speaks the Files API wire protocol directly. The request body
// is built through an io.Pipe so large files are streamed rather than
// buffered.
type httpCaller struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newHTTPCaller(cfg Config) *httpCaller {
	return &httpCaller{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// fileResponse is the subset of the Files API object we need.
type fileResponse struct {
	ID string `json:"id"`
}

// apiErrorResponse is the Files API error envelope.
type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *httpCaller) upload(ctx context.Context, name string, content io.Reader, purpose string) (string, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		err := writeUploadForm(form, name, content, purpose)
		if cerr := form.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", pr)
	if err != nil {
		return "", ferrors.NewInternalError("building upload request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ferrors.NewProviderTransientError(ProviderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}

	var file fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return "", ferrors.NewProviderTransientError(ProviderID,
			fmt.Errorf("decoding upload response: %w", err))
	}
	if file.ID == "" {
		return "", ferrors.NewProviderTransientError(ProviderID,
			fmt.Errorf("upload response missing file id"))
	}
	return file.ID, nil
}

func writeUploadForm(form *multipart.Writer, name string, content io.Reader, purpose string) error {
	if err := form.WriteField("purpose", purpose); err != nil {
		return err
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, content)
	return err
}

func (c *httpCaller) delete(ctx context.Context, remoteID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+remoteID, nil)
	if err != nil {
		return ferrors.NewInternalError("building delete request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return ferrors.NewProviderTransientError(ProviderID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// Already gone upstream; deletion is idempotent.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	default:
		// statusError reads the body for the upstream message.
		return c.statusError(resp)
	}
}

// statusError converts a non-success response into a taxonomy error,
// consuming the response body for the upstream message.
func (c *httpCaller) statusError(resp *http.Response) error {
	msg := fmt.Sprintf("%s %s returned %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode)

	var apiErr apiErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, apiErr.Error.Message)
	}

	err := fmt.Errorf("%s", msg)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return ferrors.NewProviderTransientError(ProviderID, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ferrors.NewNotFoundError("remote file", resp.Request.URL.Path)
	}
	return ferrors.NewProviderRejectedError(ProviderID, err)
}
