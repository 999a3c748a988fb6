// Package client es el cliente HTTP de la API del venue. Cada llamada que
// modifica estado va firmada con la key del llamador; las lecturas son anónimas.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/nhowze/overunder/internal/adapters/auth"
	"github.com/nhowze/overunder/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultRatePerSec = 4
	defaultBurst      = 8
	maxRetries        = 3
	baseRetryWait     = 250 * time.Millisecond
)

// Client habla con un servidor del venue.
type Client struct {
	http    *http.Client
	base    string
	signer  *auth.Signer
	limiter *rate.Limiter
	now     func() time.Time
}

// Option personaliza un Client.
type Option func(*Client)

// WithHTTPClient reemplaza el http.Client por defecto.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithRate fija el rate de requests del lado del cliente.
func WithRate(perSec float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSec), burst) }
}

// New devuelve un cliente para el servidor en base. signer puede ser nil para
// un cliente de solo lectura.
func New(base string, signer *auth.Signer, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    strings.TrimRight(base, "/"),
		signer:  signer,
		limiter: rate.NewLimiter(defaultRatePerSec, defaultBurst),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get hace un GET sin firmar. Reintenta ante errores del servidor y throttling.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doWithRetry(ctx, true, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// post hace un POST firmado. Solo reintenta los intentos con throttling:
// cualquier otro fallo puede haberse aplicado ya.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.signer == nil {
		return fmt.Errorf("client: POST %s: %w: no signing key", path, domain.ErrUnauthorized)
	}
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("client: marshal body: %w", err)
		}
	}
	return c.doWithRetry(ctx, false, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		headers, err := c.signer.SignRequest(http.MethodPost, path, raw, c.now())
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// doWithRetry ejecuta la request con backoff exponencial. Cada intento
// construye una request nueva, con timestamp actual y nonce nuevo en la firma.
func (c *Client) doWithRetry(ctx context.Context, idempotent bool, build func() (*http.Request, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("client: rate limiter: %w", err)
		}

		req, err := build()
		if err != nil {
			return fmt.Errorf("client: build request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if !idempotent || attempt == maxRetries {
				return fmt.Errorf("client: %s %s: %w", req.Method, req.URL.Path, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests ||
			(idempotent && resp.StatusCode >= 500 && attempt < maxRetries) {
			resp.Body.Close()
			slog.Warn("client: retrying", "path", req.URL.Path, "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		return decodeResponse(resp, out)
	}
	return fmt.Errorf("client: exhausted %d retries", maxRetries)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// statusError convierte una respuesta de error en el error del motor que la
// originó, cuando el status lo identifica.
func statusError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}

	var kind error
	switch status {
	case http.StatusForbidden:
		kind = domain.ErrUnauthorized
	case http.StatusNotFound:
		kind = domain.ErrNotFound
	case http.StatusConflict:
		kind = conflictError(msg)
	}
	if kind != nil {
		return fmt.Errorf("client: %w (%d: %s)", kind, status, msg)
	}
	return &APIError{Status: status, Message: msg}
}

// conflictError recupera el error de ciclo de vida nombrado en un mensaje 409.
func conflictError(msg string) error {
	for _, err := range []error{
		domain.ErrAlreadyExists,
		domain.ErrAlreadyPublished,
		domain.ErrAlreadyClaimed,
		domain.ErrReceiptListed,
		domain.ErrNotListed,
		domain.ErrPoolSettled,
		domain.ErrPoolNotSettled,
	} {
		if strings.Contains(msg, err.Error()) {
			return err
		}
	}
	return nil
}

// APIError es una respuesta de error del servidor sin error del motor equivalente.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: server returned %d: %s", e.Status, e.Message)
}

// IsStatus indica si err es un APIError con el status dado.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
