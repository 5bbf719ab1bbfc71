package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPAutomation talks to a browser-automation sidecar over HTTP. The
// sidecar accepts a TaskSpec and blocks until the automation finishes, so
// no request timeout is set on the client; the caller's context (and the
// task watchdog above it) bound the call.
type HTTPAutomation struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPAutomation(endpoint string) *HTTPAutomation {
	return &HTTPAutomation{
		Endpoint: endpoint,
		Client:   &http.Client{},
	}
}

func (a *HTTPAutomation) Run(ctx context.Context, spec TaskSpec, progress func(line string)) (map[string]interface{}, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	progress("handing task to automation agent")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("automation agent returned %d: %s", resp.StatusCode, raw)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("automation agent returned unparseable output: %w", err)
	}
	progress("automation agent finished")
	return result, nil
}
