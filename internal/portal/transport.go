package portal

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"time"

	"gradeportal-backend/internal/components/assert"
	"gradeportal-backend/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

type Request struct {
	Method Method
	Url    string
	Query  Query
}

type Response struct {
	Status int
	Body   []byte
	// Url is the final url after redirects.
	Url string
}

// Transport sends one request. Cookies are the transport's concern, one
// transport serves one session. A non-2xx status is not an error here.
//
// note: fault injection point
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

type RestyTransportOptions struct {
	// Hosts the client may be redirected to.
	Hosts   []string
	Timeout time.Duration
	// RequestsPerSecond of 0 disables rate limiting.
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	// DumpDir is passed to telemetry.InstrumentResty.
	DumpDir string
}

func DefaultRestyTransportOptions(hosts []string) RestyTransportOptions {
	return RestyTransportOptions{
		Hosts:             hosts,
		Timeout:           time.Second * 30,
		RequestsPerSecond: 2,
		Burst:             2,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	}
}

// RestyTransport is the production Transport: a resty client with its own
// cookie jar.
type RestyTransport struct {
	client *resty.Client
}

func NewRestyTransport(opts RestyTransportOptions, tel telemetry.API) (RestyTransport, error) {
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("transport", tel)

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return RestyTransport{}, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}
	if len(opts.Hosts) > 0 {
		client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(opts.Hosts...))
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(client, tel, telemetry.RestyOptions{DumpDir: opts.DumpDir})

	return RestyTransport{client: client}, nil
}

func (t RestyTransport) Send(ctx context.Context, req Request) (Response, error) {
	r := t.client.R().SetContext(ctx)

	var res *resty.Response
	var err error
	switch req.Method {
	case MethodGet:
		target, parseErr := url.Parse(req.Url)
		if parseErr != nil {
			return Response{}, parseErr
		}
		if len(req.Query) > 0 {
			encoded := req.Query.Encode()
			if target.RawQuery != "" {
				target.RawQuery += "&" + encoded
			} else {
				target.RawQuery = encoded
			}
		}
		res, err = r.Get(target.String())
	case MethodPost:
		res, err = r.
			SetHeader("content-type", "application/x-www-form-urlencoded").
			SetBody(req.Query.Encode()).
			Post(req.Url)
	default:
		return Response{}, fmt.Errorf("unsupported method '%s'", req.Method)
	}
	if err != nil {
		return Response{}, err
	}

	finalUrl := req.Url
	if res.RawResponse != nil && res.RawResponse.Request != nil && res.RawResponse.Request.URL != nil {
		finalUrl = res.RawResponse.Request.URL.String()
	}
	return Response{
		Status: res.StatusCode(),
		Body:   res.Body(),
		Url:    finalUrl,
	}, nil
}
