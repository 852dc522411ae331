package rollback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deployguard/internal/config"
)

// HTTPDeployer talks to the deployment controller over its JSON API:
//
//	GET  {base}/services/{target}           -> {"healthy_targets": n}
//	POST {base}/services/{target}/rollback  -> {"handle": "..."}
//	GET  {base}/rollbacks/{handle}          -> {"status": "PENDING|CONVERGED|FAILED"}
type HTTPDeployer struct {
	base   string
	client *http.Client
}

func NewHTTPDeployer(cfg config.RollbackConfig) *HTTPDeployer {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDeployer{
		base:   strings.TrimRight(cfg.ControllerURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDeployer) HealthyTargetCount(ctx context.Context, target string) (int, error) {
	var out struct {
		HealthyTargets int `json:"healthy_targets"`
	}
	if err := d.get(ctx, "/services/"+url.PathEscape(target), &out); err != nil {
		return 0, err
	}
	return out.HealthyTargets, nil
}

func (d *HTTPDeployer) RollbackToPrevious(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+"/services/"+url.PathEscape(target)+"/rollback", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("deployment controller returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Handle == "" {
		return "", fmt.Errorf("deployment controller returned no rollback handle")
	}
	return out.Handle, nil
}

func (d *HTTPDeployer) PollConvergence(ctx context.Context, handle string) (ConvergenceStatus, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := d.get(ctx, "/rollbacks/"+url.PathEscape(handle), &out); err != nil {
		return ConvergencePending, err
	}
	switch ConvergenceStatus(strings.ToUpper(out.Status)) {
	case ConvergenceConverged:
		return ConvergenceConverged, nil
	case ConvergenceFailed:
		return ConvergenceFailed, nil
	default:
		return ConvergencePending, nil
	}
}

func (d *HTTPDeployer) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("deployment controller returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
