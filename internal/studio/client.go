package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tahcohcat/voiceforge/internal/tts"
)

const generateFailed = "Failed to generate audio."

// RemoteError is a non-success answer from the synthesis proxy.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("proxy returned status %d: %s", e.StatusCode, e.Message)
}

// ProxyClient calls POST {base}/api/tts.
type ProxyClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewProxyClient(baseURL string, httpClient *http.Client) *ProxyClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ProxyClient{
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/tts",
		httpClient: httpClient,
	}
}

func (c *ProxyClient) Generate(ctx context.Context, credential string, req tts.Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("proxy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			Message:    remoteMessage(resp.Body),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return data, nil
}

// remoteMessage extracts {"error": "..."}, falling back to a generic message.
func remoteMessage(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return generateFailed
	}
	if msg := strings.TrimSpace(payload.Error); msg != "" {
		return msg
	}
	return generateFailed
}
