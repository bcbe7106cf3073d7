package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds each individual health probe.
const DefaultProbeTimeout = 5 * time.Second

// Probe identifies the local server and model to check.
type Probe struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// ProbeResult is the outcome of one probe.
type ProbeResult struct {
	OK     bool
	Detail string
}

// Report is the full health picture for a local backend. Detail strings are
// always populated; Fix is empty only when OK.
type Report struct {
	Connectivity ProbeResult
	ModelReady   ProbeResult
	OK           bool
	Fix          string
}

// FailureDetail returns the detail of the first failing probe.
func (r *Report) FailureDetail() string {
	if !r.Connectivity.OK {
		return r.Connectivity.Detail
	}
	if !r.ModelReady.OK {
		return r.ModelReady.Detail
	}
	return ""
}

// HealthChecker probes a local embedding server's reachability and model
// readiness. Used only by the router.
type HealthChecker struct {
	client *http.Client
}

// NewHealthChecker creates a health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{client: &http.Client{}}
}

// Check runs the connectivity and model-readiness probes.
func (h *HealthChecker) Check(ctx context.Context, probe Probe) *Report {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	report := &Report{}
	report.Connectivity = h.checkConnectivity(ctx, probe.BaseURL, timeout)
	if !report.Connectivity.OK {
		report.ModelReady = ProbeResult{
			OK:     false,
			Detail: "skipped: server unreachable",
		}
		report.Fix = "Start the local embedding server: ollama serve"
		return report
	}

	report.ModelReady = h.checkModel(ctx, probe, timeout)
	if !report.ModelReady.OK {
		report.Fix = fmt.Sprintf("Pull the model: ollama pull %s", probe.Model)
		return report
	}

	report.OK = true
	return report
}

// checkConnectivity probes GET /api/version.
func (h *HealthChecker) checkConnectivity(ctx context.Context, baseURL string, timeout time.Duration) ProbeResult {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimSuffix(baseURL, "/") + "/api/version"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Detail: fmt.Sprintf("invalid base URL %q: %v", baseURL, err)}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return ProbeResult{Detail: fmt.Sprintf("server unreachable at %s: %v", baseURL, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ProbeResult{Detail: fmt.Sprintf("server at %s returned status %d", baseURL, resp.StatusCode)}
	}

	var version struct {
		Version string `json:"version"`
	}
	detail := fmt.Sprintf("server reachable at %s", baseURL)
	if err := json.NewDecoder(resp.Body).Decode(&version); err == nil && version.Version != "" {
		detail = fmt.Sprintf("server %s reachable at %s", version.Version, baseURL)
	}

	return ProbeResult{OK: true, Detail: detail}
}

// checkModel probes POST /api/show, falling back to the /api/tags model list
// before concluding the model is missing.
func (h *HealthChecker) checkModel(ctx context.Context, probe Probe, timeout time.Duration) ProbeResult {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	base := strings.TrimSuffix(probe.BaseURL, "/")
	body, _ := json.Marshal(map[string]string{"model": probe.Model})
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, base+"/api/show", bytes.NewReader(body))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		resp, doErr := h.client.Do(req)
		if doErr == nil {
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == http.StatusOK {
				return ProbeResult{OK: true, Detail: fmt.Sprintf("model %s is available", probe.Model)}
			}
		}
	}

	// Some servers don't implement /api/show; the tags list is authoritative
	// enough for a base-name membership check.
	if h.modelInTags(ctx, base, probe.Model, timeout) {
		return ProbeResult{OK: true, Detail: fmt.Sprintf("model %s is available", probe.Model)}
	}

	return ProbeResult{Detail: fmt.Sprintf("model %s is not available on the server", probe.Model)}
}

func (h *HealthChecker) modelInTags(ctx context.Context, base, model string, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	want := strings.ToLower(strings.Split(model, ":")[0])
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == strings.ToLower(model) || strings.Split(name, ":")[0] == want {
			return true
		}
	}
	return false
}
