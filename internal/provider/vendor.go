package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"chain-screening/internal/risk"
)

const (
	vendorAddressPath     = "/address/"
	defaultVendorBaseURL  = "https://public.chainalysis.com/api/v1"
	defaultVendorAgent    = "screenctl/1.0"
	sanctionsVendorScore  = 100
	otherVendorRiskScore  = 75
	defaultBreakerTimeout = 30 * time.Second
)

// VendorOptions parameterise the third-party risk API client.
type VendorOptions struct {
	Name               string
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	UserAgent          string
	Chains             []string
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// Vendor screens addresses against a REST risk API returning identifications.
type Vendor struct {
	health
	opts    VendorOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker
}

// NewVendor constructs a vendor client.
func NewVendor(opts VendorOptions, logger zerolog.Logger) *Vendor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "vendor_api"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultVendorBaseURL
	}

	maxFailures := opts.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	breakerTimeout := opts.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = defaultBreakerTimeout
	}

	v := &Vendor{
		opts:    opts,
		logger:  logger.With().Str("component", "vendor_provider").Str("provider", opts.Name).Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
	v.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			v.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("vendor circuit state changed")
		},
	})
	return v
}

func (v *Vendor) Name() string { return v.opts.Name }

func (v *Vendor) SupportedCategories() []risk.Category {
	return []risk.Category{risk.CategorySanctions, risk.CategoryTerroristFinancing, risk.CategoryDarknet, risk.CategoryIllicitBehavior}
}

func (v *Vendor) SupportedChains() []string { return v.opts.Chains }

// IsHealthy is false while the breaker is open or after a failed call.
func (v *Vendor) IsHealthy() bool {
	return v.breaker.State() != gobreaker.StateOpen && v.health.IsHealthy()
}

// ScreenAddress fetches identifications for the address and converts them into signals.
func (v *Vendor) ScreenAddress(ctx context.Context, req Request) (risk.ProviderResult, error) {
	if strings.TrimSpace(req.Address) == "" {
		return risk.ProviderResult{}, errors.New("address required")
	}
	if !SupportsChain(v, req.Chain) {
		return risk.ProviderResult{}, fmt.Errorf("%w: %s", ErrUnsupportedChain, req.Chain)
	}

	out, err := v.breaker.Execute(func() (interface{}, error) {
		return v.fetch(ctx, req.Address)
	})
	v.record(err)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return risk.ProviderResult{}, fmt.Errorf("vendor %s: circuit open: %w", v.opts.Name, err)
		}
		return risk.ProviderResult{}, err
	}

	res := out.(*identificationsResponse)
	result := risk.ProviderResult{
		Provider:   v.opts.Name,
		Matched:    len(res.Identifications) > 0,
		Signals:    make([]risk.Signal, 0, len(res.Identifications)),
		Success:    true,
		ScreenedAt: time.Now().UTC(),
	}
	for _, id := range res.Identifications {
		result.Signals = append(result.Signals, v.toSignal(id, req))
	}
	return result, nil
}

func (v *Vendor) fetch(ctx context.Context, address string) (*identificationsResponse, error) {
	endpoint := v.baseURL + vendorAddressPath + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(v.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultVendorAgent)
	}
	if v.opts.APIKey != "" {
		req.Header.Set("X-API-Key", v.opts.APIKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(v.opts.Name, resp.StatusCode, payload)
	}

	var parsed identificationsResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode vendor response: %w", err)
	}
	return &parsed, nil
}

func (v *Vendor) toSignal(id identification, req Request) risk.Signal {
	category := risk.ParseCategory(id.Category)
	signal := risk.Signal{
		Provider:    v.opts.Name,
		Category:    category,
		Severity:    risk.SeverityHigh,
		RiskScore:   otherVendorRiskScore,
		Actions:     []risk.Action{risk.ActionReview},
		Description: id.Description,
		Direction:   directionOf(req),
		EntityName:  id.Name,
		Metadata:    map[string]string{"raw_category": id.Category},
	}
	if id.URL != "" {
		signal.Metadata["url"] = id.URL
	}
	if category == risk.CategorySanctions {
		signal.Severity = risk.SeveritySevere
		signal.RiskScore = sanctionsVendorScore
		signal.Actions = []risk.Action{risk.ActionDeny, risk.ActionAlert}
	}
	if signal.Description == "" {
		signal.Description = id.Name
	}
	return signal
}

type identificationsResponse struct {
	Identifications []identification `json:"identifications"`
}

type identification struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseHTTPError(name string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", name, status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%s api error (%d): %s", name, status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", name, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", name, status)
}

var _ Provider = (*Vendor)(nil)
