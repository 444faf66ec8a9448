package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/resilience"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported script url scheme")
	ErrFileNotAllowed    = errors.New("file scripts are disabled")
	ErrScriptTooLarge    = errors.New("script exceeds size limit")
	ErrNotScript         = errors.New("payload is not a text script")
)

// StatusError reports a non-2xx response for a script fetch.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// Fetcher loads script source from http(s), file and data URLs.
type Fetcher struct {
	cfg      Config
	client   *resty.Client
	breakers *resilience.Group
	log      *zap.Logger
}

// NewFetcher creates a fetcher. HTTP origins share one breaker group, so a
// failing origin stops being hit until its breaker half-opens.
func NewFetcher(cfg Config, log *zap.Logger) *Fetcher {
	cfg = cfg.withDefaults()

	// retryablehttp owns retries and backoff; resty only shapes requests.
	// Once retries run out the last response is passed through, so a bad
	// status still surfaces as a StatusError.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.FetchRetries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.FetchTimeout).
		SetHeader("User-Agent", "remoteui-sandbox/1.0").
		SetHeader("Accept", "application/javascript, text/javascript, text/plain;q=0.9, */*;q=0.1")

	return &Fetcher{
		cfg:    cfg,
		client: client,
		breakers: resilience.NewGroup(resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
		log: logging.OrNop(log).Named("fetch"),
	}
}

// Fetch returns the script text behind rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse script url: %w", err)
	}

	var body []byte
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		body, err = f.fetchHTTP(ctx, u)
	case "file":
		body, err = f.fetchFile(u)
	case "data":
		body, err = f.decodeData(rawURL)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		return "", err
	}

	if err := checkText(body); err != nil {
		return "", err
	}
	f.log.Debug("script fetched", zap.String("scheme", u.Scheme), zap.Int("bytes", len(body)))
	return string(body), nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL) ([]byte, error) {
	var body []byte
	err := f.breakers.Do(ctx, u.Host, func(ctx context.Context) error {
		resp, err := f.client.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			Get(u.String())
		if err != nil {
			return fmt.Errorf("fetch %s: %w", u.Redacted(), err)
		}
		raw := resp.RawBody()
		defer raw.Close()

		if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
			return &StatusError{URL: u.Redacted(), Status: resp.StatusCode()}
		}
		body, err = f.readLimited(raw)
		return err
	})
	return body, err
}

func (f *Fetcher) fetchFile(u *url.URL) ([]byte, error) {
	if !f.cfg.AllowFile {
		return nil, ErrFileNotAllowed
	}
	file, err := os.Open(u.Path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer file.Close()
	return f.readLimited(file)
}

// decodeData decodes data:[<mediatype>][;base64],<data>.
func (f *Fetcher) decodeData(rawURL string) ([]byte, error) {
	rest := rawURL[len("data:"):]
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data url: missing comma")
	}

	var body []byte
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
			if err != nil {
				return nil, fmt.Errorf("malformed data url: %w", err)
			}
		}
		body = decoded
	} else {
		decoded, err := url.PathUnescape(data)
		if err != nil {
			return nil, fmt.Errorf("malformed data url: %w", err)
		}
		body = []byte(decoded)
	}

	if int64(len(body)) > f.cfg.MaxScriptBytes {
		return nil, ErrScriptTooLarge
	}
	return body, nil
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, f.cfg.MaxScriptBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxScriptBytes {
		return nil, ErrScriptTooLarge
	}
	return body, nil
}

// checkText rejects binary payloads.
func checkText(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	for mt := mimetype.Detect(body); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return nil
		}
	}
	return fmt.Errorf("%w: detected %s", ErrNotScript, mimetype.Detect(body).String())
}
