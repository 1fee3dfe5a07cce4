// Package provider implements a small HTTP-backed demo provider that
// cmd/pi run dispatches through the scheduler core, so the CLI exercises
// the whole stack against something real rather than a no-op stub.
// Grounded on the teacher's SSRF-guarded dial path (internal/utils/net.go)
// and its URL-redaction-before-logging convention, generalized from
// mirror-fetching to a generic "invoke a tool endpoint" round trip.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/run-pi/pi/internal/logging"
	"github.com/run-pi/pi/internal/scherr"
	"github.com/run-pi/pi/internal/utils"
)

var log = logging.With("provider")

// Request is what the demo provider sends for one invocation.
type Request struct {
	Tool   string `json:"tool"`
	Prompt string `json:"prompt"`
}

// Response is what the demo provider expects back.
type Response struct {
	Output string `json:"output"`
}

// Demo is an HTTP-backed provider dialing through the SSRF-guarded
// dialer, pointed at the endpoint given by cmd/pi's --provider-url flag.
// Loopback and private addresses are refused unless PI_ALLOW_PRIVATE_IPS
// is "true".
type Demo struct {
	Endpoint string
	client   *http.Client
}

// New builds a Demo client targeting endpoint. A zero-value endpoint
// means Call runs entirely locally (no network), useful for `pi bench`
// and CI runs with no backend configured.
func New(endpoint string) *Demo {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &Demo{
		Endpoint: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: utils.SafeDialContext(dialer),
			},
		},
	}
}

// Call dispatches one invocation. If no endpoint is configured, it
// simulates work with a short sleep so the scheduler's wait/exec timing
// still has something non-trivial to report.
func (d *Demo) Call(ctx context.Context, tool, prompt string) (string, error) {
	if d.Endpoint == "" {
		return d.simulate(ctx, tool, prompt)
	}

	body, err := json.Marshal(Request{Tool: tool, Prompt: prompt})
	if err != nil {
		return "", scherr.Wrap(scherr.KindBadRequest, "marshal provider request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", scherr.Wrap(scherr.KindBadRequest, "build provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		log.Debug().Str("endpoint", utils.SanitizeURL(d.Endpoint)).Err(err).Msg("provider call failed")
		return "", classifyTransportErr(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("close provider response body")
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", scherr.Wrap(scherr.KindServerTransient, "read provider response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", scherr.New(scherr.KindServerTransient, fmt.Sprintf("provider returned %d", resp.StatusCode)).WithStatus(resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return "", scherr.Wrap(scherr.KindServerTransient, "decode provider response", err)
	}
	return out.Output, nil
}

func (d *Demo) simulate(ctx context.Context, tool, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", scherr.Cancelled("simulated call interrupted")
	case <-time.After(10 * time.Millisecond):
	}
	return fmt.Sprintf("simulated output for %s: %s", tool, prompt), nil
}

func classifyTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return scherr.Wrap(scherr.KindTimeout, "provider request timed out", err)
	}
	return scherr.Wrap(scherr.KindServerTransient, "provider request failed", err)
}
