package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/docfold/docfold/fault"
)

// DefaultImageTimeout bounds the whole probe-and-download exchange.
const DefaultImageTimeout = 10 * time.Second

// DefaultMaxImageBytes is the accepted image size ceiling.
const DefaultMaxImageBytes int64 = 10 << 20

var allowedImageTypes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/svg+xml",
}

// ImageFetcher validates and downloads remote images for add_image_fragment.
// Validation runs twice: once against the HEAD probe so oversized or wrong
// content is refused before any download, and again against the GET response,
// which is authoritative. Hosts that reject HEAD fall through to GET.
type ImageFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	log      *slog.Logger
}

func NewImageFetcher(client *http.Client, timeout time.Duration, maxBytes int64, log *slog.Logger) *ImageFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultImageTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &ImageFetcher{client: client, timeout: timeout, maxBytes: maxBytes, log: log}
}

// Fetched is a validated, downloaded remote image.
type Fetched struct {
	ContentType string
	Data        []byte
}

// DataURI renders the image as a data: URI for embedding into fragment
// parameters.
func (f *Fetched) DataURI() string {
	return "data:" + f.ContentType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string, requireHTTPS bool) (*Fetched, *fault.Error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fault.Newf(fault.InvalidImageURL, "image_url %q is not an absolute url", rawURL)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && !requireHTTPS:
	default:
		return nil, fault.Newf(fault.InvalidImageURL, "image_url scheme %q is not allowed", u.Scheme).
			WithRecovery("use an https url, or pass require_https=false for plain http")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if resp, err := f.do(ctx, http.MethodHead, rawURL); err == nil {
		headErr := f.check(resp, rawURL)
		resp.Body.Close()
		if headRejected(resp.StatusCode) {
			f.log.Debug("image host rejected HEAD, probing with GET",
				slog.String("url", rawURL), slog.Int("status", resp.StatusCode))
		} else if headErr != nil {
			return nil, headErr
		}
	} else if ferr := f.transportFault(ctx, err, rawURL); ferr.Code == fault.ImageURLTimeout {
		return nil, ferr
	}

	resp, err := f.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, f.transportFault(ctx, err, rawURL)
	}
	defer resp.Body.Close()
	if ferr := f.check(resp, rawURL); ferr != nil {
		return nil, ferr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, f.transportFault(ctx, err, rawURL)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fault.Newf(fault.ImageTooLarge, "image exceeds the %d byte limit", f.maxBytes).
			WithDetail("url", rawURL)
	}
	return &Fetched{ContentType: contentTypeOf(resp), Data: body}, nil
}

func (f *ImageFetcher) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "docfold")
	return f.client.Do(req)
}

// check validates status, content type, and declared size of a response.
func (f *ImageFetcher) check(resp *http.Response, rawURL string) *fault.Error {
	if resp.StatusCode != http.StatusOK {
		return fault.Newf(fault.ImageNotAccessible, "image url returned status %d", resp.StatusCode).
			WithDetail("url", rawURL)
	}
	ct := contentTypeOf(resp)
	allowed := false
	for _, t := range allowedImageTypes {
		if ct == t {
			allowed = true
			break
		}
	}
	if !allowed {
		return fault.Newf(fault.InvalidImageType, "content type %q is not an accepted image type", ct).
			WithDetail("accepted", allowedImageTypes).
			WithDetail("url", rawURL)
	}
	if resp.ContentLength > f.maxBytes {
		return fault.Newf(fault.ImageTooLarge, "image declares %d bytes, limit is %d", resp.ContentLength, f.maxBytes).
			WithDetail("url", rawURL)
	}
	return nil
}

func (f *ImageFetcher) transportFault(ctx context.Context, err error, rawURL string) *fault.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.Newf(fault.ImageURLTimeout, "image url did not respond within %s", f.timeout).
			WithDetail("url", rawURL)
	}
	return fault.Wrap(err, fault.ImageValidation, "image url could not be fetched").
		WithDetail("url", rawURL)
}

// headRejected reports response codes that mean the host does not support
// HEAD rather than that the resource is bad.
func headRejected(status int) bool {
	return status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented
}

func contentTypeOf(resp *http.Response) string {
	ct, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return resp.Header.Get("Content-Type")
	}
	return ct
}
