// workers/notify_client.go
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// NotifyClient pushes user notifications to the notification service. Delivery
// is fire-and-forget: settlement outcomes are already committed by the time a
// notice goes out, so a failed push is logged and dropped, never retried into
// a match transaction.
type NotifyClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewNotifyClient() *NotifyClient {
	baseURL := os.Getenv("NOTIFY_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("NOTIFY_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("WAGER_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("WAGER_SERVICE_TOKEN environment variable is required for notifications")
	}

	return &NotifyClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify sends a single notification in a background goroutine.
func (c *NotifyClient) Notify(ctx context.Context, userID, title, body string) {
	go func() {
		payload, err := json.Marshal(map[string]string{
			"user_id": userID,
			"title":   title,
			"body":    body,
		})
		if err != nil {
			log.Printf("❌ Failed to encode notification for user %s: %v", userID, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST",
			c.BaseURL+"/api/v1/internal/notifications", bytes.NewReader(payload))
		if err != nil {
			log.Printf("❌ Failed to build notification request for user %s: %v", userID, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Service-Token", c.Token)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			log.Printf("❌ Failed to push notification to user %s: %v", userID, err)
			return
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			log.Printf("❌ Notification service returned %d for user %s: %s",
				resp.StatusCode, userID, string(body))
		}
	}()
}
