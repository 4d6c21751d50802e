package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Result is the parsed outcome of a SOAP call: an integer result code
// plus an operation-specific payload. Code 0 is OK, -4 is transient
// (retry), other negatives are non-retryable application errors.
type Result struct {
	Code         int
	ErrorMessage string
	RawBody      []byte
}

// transientCode is DHPO's documented transient result code.
const transientCode = -4

// Gateway issues typed SOAP operations against one DHPO-style endpoint.
// A gobreaker.CircuitBreaker per endpoint stops the gateway from
// hammering a persistently failing facility, the same dependency the
// pack's kubernaut member uses to guard calls to an external service.
type Gateway struct {
	httpClient *http.Client
	log        *zap.Logger
	maxRetries uint64

	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
}

// Config controls Gateway construction.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     uint64 // default attempts per spec.md §4.2 ("up to N attempts, default 3")
}

// New builds a Gateway. A zero Config falls back to 3 attempts / 10s
// connect / 30s read, matching spec.md §4.2's defaults.
func New(cfg Config, log *zap.Logger) *Gateway {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}

	return &Gateway{
		httpClient: &http.Client{Transport: transport, Timeout: readTimeout},
		log:        log,
		maxRetries: cfg.MaxRetries,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (g *Gateway) breakerFor(endpoint string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[endpoint]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	g.breakers[endpoint] = b
	return b
}

// Call issues one SOAP operation. envelopeXML is the pre-rendered
// envelope (see BuildEnvelope); soapAction is the wsdl action name.
// Makes up to Config.MaxRetries attempts in all (the first call plus
// MaxRetries-1 retries) with fixed backoff on HTTP 408/429/5xx,
// network/IO errors, or a parsed transient result code.
// Non-retryable result codes (e.g. auth failure) surface on the first
// attempt.
func (g *Gateway) Call(ctx context.Context, endpoint string, version Version, op Operation, soapAction string, envelopeXML []byte) (Result, error) {
	breaker := g.breakerFor(endpoint)

	var result Result
	operation := func() error {
		raw, err := breaker.Execute(func() (interface{}, error) {
			return g.doOnce(ctx, endpoint, version, soapAction, envelopeXML)
		})
		if err != nil {
			return err
		}
		result = raw.(Result)
		if result.Code == transientCode {
			return fmt.Errorf("transient result code %d from %s", transientCode, op)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), g.maxRetries-1)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return result, fmt.Errorf("soap call %s to %s: %w", op, endpoint, err)
	}
	return result, nil
}

func (g *Gateway) doOnce(ctx context.Context, endpoint string, version Version, soapAction string, envelopeXML []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelopeXML))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", ContentType(version, soapAction))
	if name, value := SOAPActionHeader(version, soapAction); name != "" {
		req.Header.Set(name, value)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("retryable http status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return Result{}, backoff.Permanent(fmt.Errorf("non-retryable http status %d", resp.StatusCode))
	}

	code, _ := extractResultCode(body)
	return Result{Code: code, RawBody: body}, nil
}

// extractResultCode scans body for the first <Code> element at any
// nesting depth and parses its text content as an integer. DHPO's
// different operations (GetNewTransactions/SearchTransactions vs.
// DownloadTransactionFile/SetTransactionDownloaded) nest <Code> at
// different depths inside the SOAP envelope, so a single fixed-path
// struct can't unmarshal all of them; a token scan needs no schema.
// Returns (0, false) if no <Code> element is present.
func extractResultCode(body []byte) (int, bool) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, false
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Code" {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return 0, false
		}
		code, err := strconv.Atoi(text)
		if err != nil {
			return 0, false
		}
		return code, true
	}
}
