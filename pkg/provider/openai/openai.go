// Package openai implements the OpenAI Files API provider adapter.
//
// Two call strategies sit behind the same unexported interface: the
// go-openai SDK (default) and a direct HTTP client speaking
// multipart/form-data against /v1/files. The HTTP strategy exists for
// OpenAI-compatible endpoints the SDK does not model.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/fileferry/fileferry/pkg/provider"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// ProviderID is the registry identifier of this adapter.
const ProviderID = "openai"

// MaxFileSize is the Files API single-upload limit.
const MaxFileSize = 512 << 20 // 512 MB

// DefaultBaseURL is the public OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// purposes is the Files API purpose enum.
var purposes = []string{"fine-tune", "assistants", "batch", "vision", "user_data", "evals"}

// Strategy names accepted in configuration.
const (
	StrategySDK  = "sdk"
	StrategyHTTP = "http"
)

// Config contains OpenAI adapter configuration.
type Config struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key" validate:"required"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Strategy selects the call path: "sdk" (default) or "http".
	Strategy string `mapstructure:"strategy" yaml:"strategy" validate:"omitempty,oneof=sdk http"`

	// Timeout bounds individual HTTP calls in the http strategy.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Strategy == "" {
		c.Strategy = StrategySDK
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Minute
	}
}

// caller is the strategy seam between the SDK and raw HTTP paths.
type caller interface {
	upload(ctx context.Context, name string, content io.Reader, purpose string) (remoteID string, err error)
	delete(ctx context.Context, remoteID string) error
}

// Adapter is the OpenAI Files API provider.
type Adapter struct {
	caller caller
	limits provider.Limits
}

// New creates the adapter with the strategy selected by cfg.
func New(cfg Config) (*Adapter, error) {
	cfg.ApplyDefaults()

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}

	a := &Adapter{
		limits: provider.Limits{
			MaxSizeBytes:      MaxFileSize,
			SupportedPurposes: append([]string(nil), purposes...),
		},
	}

	switch cfg.Strategy {
	case StrategySDK:
		clientCfg := gopenai.DefaultConfig(cfg.APIKey)
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
		a.caller = &sdkCaller{client: gopenai.NewClientWithConfig(clientCfg)}
	case StrategyHTTP:
		a.caller = newHTTPCaller(cfg)
	default:
		return nil, fmt.Errorf("openai: unknown strategy %q", cfg.Strategy)
	}

	return a, nil
}

// ID implements provider.Adapter.
func (a *Adapter) ID() string { return ProviderID }

// Limits implements provider.Adapter.
func (a *Adapter) Limits() provider.Limits { return a.limits }

// Upload implements provider.Adapter.
func (a *Adapter) Upload(ctx context.Context, content io.Reader, size int64, purpose string) (string, error) {
	if err := provider.ValidatePurpose(ProviderID, purpose, a.limits); err != nil {
		return "", err
	}
	if size > MaxFileSize {
		return "", ferrors.NewProviderRejectedError(ProviderID,
			fmt.Errorf("size %d exceeds the %d byte limit", size, int64(MaxFileSize)))
	}

	name := fmt.Sprintf("upload-%d", time.Now().UnixNano())
	return a.caller.upload(ctx, name, content, purpose)
}

// Delete implements provider.Adapter.
func (a *Adapter) Delete(ctx context.Context, remoteID string) error {
	return a.caller.delete(ctx, remoteID)
}

// sdkCaller uses the go-openai client.
type sdkCaller struct {
	client *gopenai.Client
}

func (c *sdkCaller) upload(ctx context.Context, name string, content io.Reader, purpose string) (string, error) {
	// The orchestrator hands over its on-disk spool; point the SDK at the
	// path instead of holding the whole file in memory.
	if f, ok := content.(*os.File); ok {
		file, err := c.client.CreateFile(ctx, gopenai.FileRequest{
			FileName: name,
			FilePath: f.Name(),
			Purpose:  purpose,
		})
		if err != nil {
			return "", classifyError(err)
		}
		return file.ID, nil
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return "", ferrors.NewInternalError("reading upload content", err)
	}

	file, err := c.client.CreateFileBytes(ctx, gopenai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: gopenai.PurposeType(purpose),
	})
	if err != nil {
		return "", classifyError(err)
	}
	return file.ID, nil
}

func (c *sdkCaller) delete(ctx context.Context, remoteID string) error {
	if err := c.client.DeleteFile(ctx, remoteID); err != nil {
		classified := classifyError(err)
		if ferrors.IsNotFound(classified) {
			// Already gone upstream; deletion is idempotent.
			return nil
		}
		return classified
	}
	return nil
}

// classifyError maps an SDK error onto the error taxonomy by HTTP status.
// 429 and 5xx are transient; other API errors are terminal rejections.
func classifyError(err error) error {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusNotFound:
			return ferrors.NewNotFoundError("remote file", fmt.Sprintf("%v", apiErr.Message))
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode >= 500:
			return ferrors.NewProviderTransientError(ProviderID, err)
		default:
			return ferrors.NewProviderRejectedError(ProviderID, err)
		}
	}

	var reqErr *gopenai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500 {
			return ferrors.NewProviderTransientError(ProviderID, err)
		}
		return ferrors.NewProviderRejectedError(ProviderID, err)
	}

	// No HTTP status at all means the request never completed.
	return ferrors.NewProviderTransientError(ProviderID, err)
}
