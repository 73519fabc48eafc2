// Package keycloak adapts the Keycloak OpenID-Connect and admin REST APIs
// to the identity ports.
package keycloak

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("keycloak")

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 4 << 10

// Config locates the realm and the operator account.
type Config struct {
	BaseURL       string
	Realm         string
	ClientID      string
	RedirectURI   string
	AdminBaseURL  string
	AdminRealm    string
	AdminUsername string
	AdminPassword string
}

// Issuer is the realm's OpenID-Connect issuer URL.
func (c Config) Issuer() string {
	return strings.TrimRight(c.BaseURL, "/") + "/realms/" + c.Realm
}

func (c Config) adminBase() string {
	base := c.AdminBaseURL
	if base == "" {
		base = c.BaseURL
	}
	return strings.TrimRight(base, "/")
}

// transport runs provider calls through the breaker and retry policy and
// turns non-2xx answers into *domain.ErrProviderStatus.
type transport struct {
	service    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
}

type requestFunc func(ctx context.Context) (*http.Request, error)
type decodeFunc func(resp *http.Response) error

func (t *transport) call(ctx context.Context, operation string, policy resilience.Config, newReq requestFunc, decode decodeFunc) error {
	ctx, span := tracer.Start(ctx, "keycloak."+operation)
	defer span.End()
	span.SetAttributes(attribute.String("keycloak.service", t.service))

	if t.bulkhead != nil {
		if err := t.bulkhead.Acquire(ctx); err != nil {
			return &domain.ErrExternalService{Service: t.service, Err: err}
		}
		defer t.bulkhead.Release()
	}

	_, err := t.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, policy, func() error {
			req, err := newReq(ctx)
			if err != nil {
				return resilience.Permanent(err)
			}

			resp, err := t.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
				statusErr := &domain.ErrProviderStatus{
					Operation:  operation,
					StatusCode: resp.StatusCode,
					Body:       string(body),
				}
				if statusErr.ClientError() {
					return resilience.Permanent(statusErr)
				}
				return statusErr
			}

			if decode == nil {
				return nil
			}
			if err := decode(resp); err != nil {
				return resilience.Permanent(err)
			}
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, operation)
		if resilience.IsOpen(err) {
			return &domain.ErrCircuitOpen{Service: t.service}
		}
		return &domain.ErrExternalService{Service: t.service, Err: err}
	}
	return nil
}

func formRequest(endpoint string, form url.Values) requestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}
