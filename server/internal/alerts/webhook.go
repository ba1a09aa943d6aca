package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// payloadFunc renders an alert into the JSON body one webhook flavour expects.
type payloadFunc func(a *Alert) interface{}

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  rawPayload,
}

// deliver posts a to every configured webhook whose URL resolves. Failures
// are logged per webhook and never reach the caller.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		render, ok := payloads[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type", "type", wh.Type)
			continue
		}

		log := slog.With("type", wh.Type, "rule", a.RuleName, "target", a.TargetID)
		if err := e.post(url, render(a)); err != nil {
			log.Error("alerts: webhook delivery failed", "err", err)
			continue
		}
		log.Debug("alerts: webhook delivered", "state", a.State)
	}
}

func slackPayload(a *Alert) interface{} {
	if a.State == StateResolved {
		return map[string]string{
			"text": fmt.Sprintf("*[RESOLVED]* %s on %s", a.RuleName, a.TargetID),
		}
	}
	return map[string]string{
		"text": fmt.Sprintf("*[%s]* %s", severityTag(a.Severity), a.Message),
	}
}

func teamsPayload(a *Alert) interface{} {
	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": cardColor(a),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("Presence alert: %s on %s", a.RuleName, a.TargetID),
		"text":       a.Message,
	}
}

func rawPayload(a *Alert) interface{} {
	return map[string]interface{}{"alert": a}
}

func (e *Engine) post(url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityTag(s string) string {
	switch s {
	case "critical":
		return "CRITICAL"
	case "warning":
		return "WARNING"
	default:
		return "INFO"
	}
}

// cardColor is green once resolved, otherwise keyed by severity.
func cardColor(a *Alert) string {
	if a.State == StateResolved {
		return "3FB950"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
