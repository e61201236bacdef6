package execution

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"flowhub/internal/models"
)

// HTTPRequestExecutor runs httpRequest blocks: plain REST calls with
// templated URL, headers and body. A shared rate limiter caps the outbound
// request rate across all executions on this node.
type HTTPRequestExecutor struct {
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPRequestExecutor() *HTTPRequestExecutor {
	return &HTTPRequestExecutor{
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, block *models.Block, inputs map[string]any, _ models.Session) (map[string]any, error) {
	config := block.Config

	method := strings.ToUpper(getStringOr(config, "method", "GET"))
	rawURL := getString(config, "url")
	if rawURL == "" {
		rawURL = getString(inputs, "url")
	}
	if rawURL == "" {
		return nil, NewPermanentError(fmt.Errorf("url is required for httpRequest block"))
	}

	reqURL := InterpolateTemplate(rawURL, inputs)

	if qp := getMap(config, "queryParams"); qp != nil {
		if parsedURL, parseErr := url.Parse(reqURL); parseErr == nil {
			q := parsedURL.Query()
			for k, v := range qp {
				if strVal, ok := v.(string); ok {
					q.Set(k, InterpolateTemplate(strVal, inputs))
				}
			}
			parsedURL.RawQuery = q.Encode()
			reqURL = parsedURL.String()
		}
	}

	var bodyReader io.Reader
	if bodyRaw, ok := config["body"]; ok && bodyRaw != nil {
		switch b := bodyRaw.(type) {
		case string:
			if b != "" {
				bodyReader = strings.NewReader(InterpolateTemplate(b, inputs))
			}
		case map[string]any:
			jsonBody, err := json.Marshal(InterpolateMapValues(b, inputs))
			if err != nil {
				return nil, NewPermanentError(fmt.Errorf("failed to marshal body: %w", err))
			}
			bodyReader = strings.NewReader(string(jsonBody))
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, ClassifyError(err)
	}

	log.Printf("🌐 [HTTP-REQ] Block '%s': %s %s", block.ID, method, reqURL)

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, NewPermanentError(fmt.Errorf("failed to create request: %w", err))
	}

	if headers := getMap(config, "headers"); headers != nil {
		for key, value := range headers {
			if strVal, ok := value.(string); ok {
				req.Header.Set(key, InterpolateTemplate(strVal, inputs))
			}
		}
	}

	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	applyAuth(req, config, inputs)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyError(fmt.Errorf("failed to read response: %w", err))
	}

	var parsedBody any
	if err := json.Unmarshal(responseBody, &parsedBody); err != nil {
		parsedBody = string(responseBody)
	}

	respHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			respHeaders[key] = values[0]
		}
	}

	result := map[string]any{
		"data":    parsedBody,
		"status":  resp.StatusCode,
		"headers": respHeaders,
	}

	if resp.StatusCode >= 400 {
		classified := ClassifyHTTPError(resp.StatusCode, resp.Header, string(responseBody))
		log.Printf("⚠️ [HTTP-REQ] Block '%s': HTTP %d [%s retryable=%v]",
			block.ID, resp.StatusCode, classified.Category, classified.Retryable)
		return result, classified
	}

	log.Printf("🌐 [HTTP-REQ] Block '%s': status=%d body_len=%d", block.ID, resp.StatusCode, len(responseBody))
	return result, nil
}

func applyAuth(req *http.Request, config, inputs map[string]any) {
	authConfig := getMap(config, "authConfig")
	if authConfig == nil {
		return
	}
	switch getStringOr(config, "authType", "none") {
	case "bearer":
		if token := getString(authConfig, "token"); token != "" {
			req.Header.Set("Authorization", "Bearer "+InterpolateTemplate(token, inputs))
		}
	case "basic":
		username := getString(authConfig, "username")
		password := getString(authConfig, "password")
		if username != "" {
			encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
			req.Header.Set("Authorization", "Basic "+encoded)
		}
	case "api_key":
		if key := getString(authConfig, "key"); key != "" {
			headerName := getStringOr(authConfig, "headerName", "X-API-Key")
			req.Header.Set(headerName, InterpolateTemplate(key, inputs))
		}
	}
}
