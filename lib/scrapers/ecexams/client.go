package ecexams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecexams-crawler/lib/events"
	"ecexams-crawler/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("scrapers/ecexams")

// ErrStatus marks responses the archive answered with a non-success code.
var ErrStatus = errors.New("unexpected response status")

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	requestTimeout = time.Second * 30
	// retries after the first attempt, so three attempts total
	maxRetries   = 2
	retryBackoff = time.Second * 2
)

// DefaultDelay spaces consecutive requests to the archive. The web daemon
// tightens it slightly; tests shrink it to nothing.
const DefaultDelay = time.Millisecond * 500

type ClientOptions struct {
	// BaseUrl overrides the archive root, mainly for tests.
	BaseUrl string
	// Delay is the politeness interval between any two requests,
	// retries included. Zero means DefaultDelay.
	Delay time.Duration
	// RetryWait is the base wait between attempts, growing
	// exponentially. Zero means two seconds; tests shrink it.
	RetryWait time.Duration
	// CloudflareBypass routes requests through a browser-shaped
	// transport for mirrors that sit behind bot protection.
	CloudflareBypass bool
	// Sink receives a warn event per failed attempt. nil discards them.
	Sink events.Sink
	// DebugOutput, when set, captures request/response transcripts.
	DebugOutput restyutil.InstrumentOutput
}

// Client fetches archive pages and files politely: paced, retried with
// exponential backoff, and bounded by a per-request timeout. Errors come
// back as values; nothing escapes a Get by panic.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	baseUrl string
	sink    events.Sink
}

func NewClient(options ClientOptions) *Client {
	if options.BaseUrl == "" {
		options.BaseUrl = DefaultBaseUrl
	}
	options.BaseUrl = strings.TrimSuffix(options.BaseUrl, "/")
	if options.Delay <= 0 {
		options.Delay = DefaultDelay
	}
	if options.Sink == nil {
		options.Sink = events.Discard
	}
	if options.RetryWait <= 0 {
		options.RetryWait = retryBackoff
	}

	client := resty.New()
	client.SetTimeout(requestTimeout)
	client.SetHeader("User-Agent", userAgent)
	client.SetRetryCount(maxRetries)
	client.SetRetryWaitTime(options.RetryWait)
	client.SetRetryMaxWaitTime(options.RetryWait * 4)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if res == nil {
			// client-side failure before the request hit the wire
			// (canceled pacing wait), not worth another attempt
			return false
		}
		return err != nil || res.StatusCode() >= 400
	})

	if options.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	restyutil.InstrumentClient(client, options.DebugOutput)

	c := &Client{
		http:    client,
		limiter: rate.NewLimiter(rate.Every(options.Delay), 1),
		baseUrl: options.BaseUrl,
		sink:    options.Sink,
	}

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		// politeness pacing applies to every attempt, independent of
		// the retry backoff
		return c.limiter.Wait(req.Context())
	})
	client.AddRetryHook(func(res *resty.Response, err error) {
		c.sink.Emit(events.Warn(fmt.Sprintf(
			"Retrying %s: %s", res.Request.URL, retryReason(res, err),
		)))
	})

	return c
}

// Get fetches url and returns the response body. All retry and pacing
// behavior lives here; callers only see the final result.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	res, err := c.http.R().SetContext(ctx).Get(url)
	if err == nil && res.StatusCode() >= 400 {
		err = fmt.Errorf("%w: %s", ErrStatus, res.Status())
	}
	if err != nil {
		// the retry hook has already warned once per failed attempt
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return res.Body(), nil
}

func retryReason(res *resty.Response, err error) string {
	if err != nil {
		return err.Error()
	}
	return res.Status()
}
