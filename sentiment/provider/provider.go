// Package provider adapts OpenAI-compatible model APIs to sentiment.Transport.
package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/theimaginaryfoundation/chat-tagger/sentiment"
)

const (
	OpenAI   = "openai"
	DeepSeek = "deepseek"
	Poe      = "poe"
	Custom   = "custom"
)

const (
	APIResponses = "responses"
	APIChat      = "chat"
)

// Reply formats requested from the model.
const (
	FormatJSONSchema = "json_schema"
	FormatJSONObject = "json_object"
	FormatNone       = "none"
)

var baseURLs = map[string]string{
	OpenAI:   "",
	DeepSeek: "https://api.deepseek.com/v1",
	Poe:      "https://api.poe.com/v1",
}

// Config selects and configures a transport.
type Config struct {
	Provider        string
	BaseURL         string
	APIKey          string
	Model           string
	API             string
	Format          string
	MaxOutputTokens int
	// HTTPRetries is passed to the client. Client-side retries bypass the rate limiter,
	// so the default is 0.
	HTTPRetries int
	Timeout     time.Duration
}

// Defaults fills API, Format and BaseURL from the provider name.
func (c Config) Defaults() Config {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = OpenAI
	}
	if c.BaseURL == "" {
		c.BaseURL = baseURLs[c.Provider]
	}
	if c.API == "" {
		if c.Provider == OpenAI {
			c.API = APIResponses
		} else {
			c.API = APIChat
		}
	}
	if c.Format == "" {
		switch c.Provider {
		case OpenAI:
			c.Format = FormatJSONSchema
		case DeepSeek:
			c.Format = FormatJSONObject
		default:
			c.Format = FormatNone
		}
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 300
	}
	return c
}

func (c Config) Validate() error {
	switch c.Provider {
	case OpenAI, DeepSeek, Poe:
	case Custom:
		if c.BaseURL == "" {
			return errors.New("provider custom requires a base URL")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.APIKey == "" {
		return errors.New("missing API key")
	}
	if c.Model == "" {
		return errors.New("missing model")
	}
	switch c.API {
	case APIResponses:
		if c.Format == FormatJSONObject {
			return errors.New("json_object format is only supported by the chat API")
		}
	case APIChat:
	default:
		return fmt.Errorf("unknown api %q", c.API)
	}
	switch c.Format {
	case FormatJSONSchema, FormatJSONObject, FormatNone:
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	if c.HTTPRetries < 0 {
		return errors.New("http retries must be >= 0")
	}
	return nil
}

// New builds the transport described by cfg after applying Defaults.
func New(cfg Config) (sentiment.Transport, error) {
	cfg = cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.HTTPRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)

	if cfg.API == APIChat {
		return &ChatTransport{client: &client, cfg: cfg}, nil
	}
	return &ResponsesTransport{client: &client, cfg: cfg}, nil
}

// TransportError is a failed model call. StatusCode is 0 when no HTTP response was
// received.
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func wrapError(provider string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &TransportError{Provider: provider, StatusCode: apiErr.StatusCode, Err: err}
	}
	return &TransportError{Provider: provider, Err: err}
}
