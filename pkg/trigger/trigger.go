package trigger

import (
	"bytes"
	"encoding/json"

	"github.com/classdesk/classdesk-portal/pkg/httpclient"
	"github.com/classdesk/classdesk-portal/pkg/logger"
	"go.uber.org/zap"
)

// CallAsyncWithPayload posts a JSON payload to an event trigger URL in the
// background. Used to hand off notification delivery (2FA code emails,
// password reset links) to an external function. Failures are logged but
// never block or fail the calling operation.
func CallAsyncWithPayload(triggerURL string, payload map[string]interface{}, httpClient httpclient.Client) {
	if triggerURL == "" {
		// No trigger URL configured, skip silently
		return
	}

	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			logger.Error("Failed to marshal trigger payload",
				zap.Error(err),
				zap.String("url", triggerURL))
			return
		}

		resp, err := httpClient.Post(triggerURL, "application/json", bytes.NewReader(body))
		if err != nil {
			logger.Error("Failed to call trigger URL",
				zap.Error(err),
				zap.String("url", triggerURL))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logger.Debug("Trigger URL called successfully",
				zap.String("url", triggerURL),
				zap.Int("status_code", resp.StatusCode))
		} else {
			logger.Warn("Trigger URL returned non-success status",
				zap.String("url", triggerURL),
				zap.Int("status_code", resp.StatusCode))
		}
	}()
}
