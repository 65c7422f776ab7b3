// File: internal/orquest/client.go
package orquest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/orquest-service-sync/internal/config"
	"github.com/smartdevs17/orquest-service-sync/internal/metrics"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

const (
	maxErrorBodyBytes = 1024
	maxListBodyBytes  = 32 << 20
	servicesEndpoint  = "list_services"
)

// Client talks to the Orquest REST API
type Client struct {
	config         *config.OrquestConfig
	httpClient     *http.Client
	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// response captures one HTTP exchange with the provider
type response struct {
	StatusCode   int
	ResponseTime time.Duration
	Body         []byte
	Err          error
}

// NewClient creates a new Orquest client. metricsManager may be nil.
func NewClient(cfg *config.OrquestConfig, metricsManager *metrics.Manager) *Client {
	return &Client{
		config:         cfg,
		logger:         utils.GetLogger().WithField("component", "orquest_client"),
		metricsManager: metricsManager,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// HasAPIKey reports whether provider credentials are configured
func (c *Client) HasAPIKey() bool {
	return c.config.HasAPIKey()
}

// ServicesURL returns the full service-listing URL
func (c *Client) ServicesURL() string {
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(c.config.ServicesPath, "/")
}

// ListServices fetches the full current list of services. Each element is
// returned undecoded so the caller can keep the raw record.
func (c *Client) ListServices(ctx context.Context) ([]json.RawMessage, error) {
	if !c.HasAPIKey() {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Orquest API key not configured")
	}

	resp := c.getWithRetry(ctx, c.ServicesURL())
	if resp.Err != nil {
		return nil, resp.Err
	}

	var records []json.RawMessage
	if err := json.Unmarshal(resp.Body, &records); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeUpstream, "Orquest returned an invalid service list", err)
	}

	c.logger.WithFields(logrus.Fields{
		"services":      len(records),
		"response_time": resp.ResponseTime,
	}).Debug("Fetched Orquest services")

	return records, nil
}

// getWithRetry issues the GET, retrying transport errors, 5xx and 429 up to
// the configured number of attempts
func (c *Client) getWithRetry(ctx context.Context, url string) *response {
	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last *response
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := c.retryDelay(attempt)
			c.logger.WithFields(logrus.Fields{
				"attempt":      attempt,
				"max_attempts": attempts,
				"delay":        delay,
			}).Warn("Retrying Orquest request")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &response{Err: utils.WrapAppError(utils.ErrCodeUpstream, "Orquest request cancelled", ctx.Err())}
			}
		}

		last = c.get(ctx, url)
		if last.Err == nil || !retryable(last) || ctx.Err() != nil {
			return last
		}
	}
	return last
}

func (c *Client) get(ctx context.Context, url string) *response {
	start := time.Now()
	resp := &response{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		resp.Err = utils.WrapAppError(utils.ErrCodeInternal, "Failed to create Orquest request", err)
		return resp
	}
	c.setRequestHeaders(req)

	httpResp, err := c.httpClient.Do(req)
	resp.ResponseTime = time.Since(start)
	if err != nil {
		resp.Err = utils.WrapAppError(utils.ErrCodeUpstream, "Failed to contact Orquest", err)
		c.recordRequest("error", resp.ResponseTime)
		return resp
	}
	defer httpResp.Body.Close()

	resp.StatusCode = httpResp.StatusCode

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		// Read response body (limited to prevent memory issues)
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBodyBytes))
		resp.Body = body
		resp.Err = utils.NewAppError(utils.ErrCodeUpstream,
			fmt.Sprintf("Orquest API returned status %d", httpResp.StatusCode),
			strings.TrimSpace(string(body)))
		c.recordRequest(fmt.Sprintf("%d", httpResp.StatusCode), resp.ResponseTime)
		return resp
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxListBodyBytes))
	resp.ResponseTime = time.Since(start)
	if err != nil {
		resp.Err = utils.WrapAppError(utils.ErrCodeUpstream, "Failed to read Orquest response", err)
		c.recordRequest("error", resp.ResponseTime)
		return resp
	}
	resp.Body = body
	c.recordRequest(fmt.Sprintf("%d", httpResp.StatusCode), resp.ResponseTime)
	return resp
}

// setRequestHeaders sets HTTP request headers
func (c *Client) setRequestHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	userAgent := c.config.UserAgent
	if userAgent == "" {
		userAgent = "orquest-sync/1.0"
	}
	req.Header.Set("User-Agent", userAgent)

	// Add request ID for tracing
	req.Header.Set("X-Request-ID", utils.GenerateID())
}

// retryDelay is retry_delay * 2^(attempt-2), capped at max_retry_delay
func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.config.RetryDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if c.config.MaxRetryDelay > 0 && delay >= c.config.MaxRetryDelay {
			break
		}
	}
	if c.config.MaxRetryDelay > 0 && delay > c.config.MaxRetryDelay {
		delay = c.config.MaxRetryDelay
	}
	return delay
}

func retryable(resp *response) bool {
	if resp.StatusCode == 0 {
		return utils.HasCode(resp.Err, utils.ErrCodeUpstream)
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

func (c *Client) recordRequest(status string, duration time.Duration) {
	if c.metricsManager == nil {
		return
	}
	c.metricsManager.GetPrometheusMetrics().RecordProviderRequest(servicesEndpoint, status, duration)
}
