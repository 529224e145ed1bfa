package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/pkg/retry"
	"github.com/JeffersonLab/e2sar-utils/pkg/tlsutil"
	"github.com/JeffersonLab/e2sar-utils/transport"
)

const requestTimeout = 10 * time.Second

// HTTP is a Registrar backed by the balancer's REST bridge. The session is
// identified by a client-generated UUID, so Deregister still works when the
// Register response was lost on the way back.
type HTTP struct {
	base   string // scheme://cphost:cpport/lb/<id>
	token  string
	client *http.Client
	retry  retry.Config
	logger *slog.Logger

	mu      sync.Mutex
	session string // empty until Register succeeds
}

type registerRequest struct {
	Identity
	SessionID string `json:"session_id"`
}

// NewHTTP builds a registrar for the control plane named by uri. The URI
// must carry a load balancer id; tlsCfg is consulted only for ejfats
// destinations.
func NewHTTP(uri transport.URI, tlsCfg tlsutil.ClientConfig, logger *slog.Logger) (*HTTP, error) {
	if uri.ControlAddr == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("destination %s has no control plane address", uri.String()),
			"control", "NewHTTP", "control address check")
	}
	if uri.LBID == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("destination %s has no load balancer id", uri.String()),
			"control", "NewHTTP", "lb id check")
	}
	if logger == nil {
		logger = slog.Default()
	}

	scheme := "http"
	client := &http.Client{Timeout: requestTimeout}
	if uri.UseTLS() {
		scheme = "https"
		tc, err := tlsutil.LoadClientTLSConfig(tlsCfg)
		if err != nil {
			return nil, errors.Wrap(err, "control", "NewHTTP", "TLS config load")
		}
		client.Transport = &http.Transport{TLSClientConfig: tc}
	}

	return &HTTP{
		base:   fmt.Sprintf("%s://%s/lb/%s", scheme, uri.ControlAddr, uri.LBID),
		token:  uri.Token,
		client: client,
		retry:  retry.Quick(),
		logger: logger.With("component", "control"),
	}, nil
}

// Register creates a worker session for id.
func (h *HTTP) Register(ctx context.Context, id Identity) error {
	h.mu.Lock()
	if h.session != "" {
		h.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"HTTP", "Register", "duplicate session check")
	}
	h.mu.Unlock()

	session := uuid.NewString()
	body, err := json.Marshal(registerRequest{Identity: id, SessionID: session})
	if err != nil {
		return errors.WrapInvalid(err, "HTTP", "Register", "encode identity")
	}

	err = retry.Do(ctx, h.retry, func() error {
		return h.do(ctx, http.MethodPost, h.base+"/workers", body)
	})
	if err != nil {
		return errors.Wrap(err, "HTTP", "Register",
			fmt.Sprintf("register %s", id.Name))
	}

	h.mu.Lock()
	h.session = session
	h.mu.Unlock()
	h.logger.Info("registered with control plane", "name", id.Name, "session", session)
	return nil
}

// Deregister ends the current session. Without a live session it returns
// nil immediately.
func (h *HTTP) Deregister(ctx context.Context) error {
	h.mu.Lock()
	session := h.session
	h.session = ""
	h.mu.Unlock()
	if session == "" {
		return nil
	}

	err := retry.Do(ctx, h.retry, func() error {
		return h.do(ctx, http.MethodDelete, h.base+"/workers/"+session, nil)
	})
	if err != nil {
		return errors.Wrap(err, "HTTP", "Deregister",
			fmt.Sprintf("end session %s", session))
	}
	h.logger.Info("deregistered from control plane", "session", session)
	return nil
}

// do performs one request and classifies the response for the retry loop:
// 4xx responses will not change on a retry, transport errors and 5xx might.
func (h *HTTP) do(ctx context.Context, method, url string, body []byte) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Read and discard body to reuse the connection.
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.NonRetryable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	default:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
}
