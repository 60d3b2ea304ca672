package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/tidwall/gjson"
)

// probeSpec is one request the harness sends against the gateway.
type probeSpec struct {
	Name    string
	Dialect string
	Path    string
	Stream  bool
	Payload []byte
	// Auth is how the credential travels: bearer, x-api-key or x-goog-api-key.
	Auth string
}

// probeResult captures the outcome of one probe.
type probeResult struct {
	Success      bool
	StatusCode   int
	Reason       string
	ResponseBody string
	Elapsed      time.Duration
}

type harness struct {
	baseURL string
	token   string
	model   string
	timeout time.Duration
	logger  glog.Logger
}

func (h *harness) run(ctx context.Context, spec probeSpec) (result probeResult) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	defer func() { result.Elapsed = time.Since(start) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+spec.Path, bytes.NewReader(spec.Payload))
	if err != nil {
		result.Reason = errors.Wrap(err, "build request").Error()
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "gateway-test-harness/1.0")
	switch spec.Auth {
	case "x-api-key":
		req.Header.Set("x-api-key", h.token)
		req.Header.Set("anthropic-version", "2023-06-01")
	case "x-goog-api-key":
		req.Header.Set("x-goog-api-key", h.token)
	default:
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Reason = errors.Wrap(err, "do request").Error()
		return result
	}
	defer resp.Body.Close()
	result.StatusCode = resp.StatusCode

	if spec.Stream {
		return h.evaluateStream(resp, result)
	}
	return h.evaluateComplete(spec, resp, result)
}

func (h *harness) evaluateComplete(spec probeSpec, resp *http.Response, result probeResult) probeResult {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	result.ResponseBody = truncate(string(body))
	if err != nil {
		result.Reason = errors.Wrap(err, "read response").Error()
		return result
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		result.Reason = "non-2xx status"
		return result
	}

	var text string
	switch spec.Dialect {
	case "claude":
		text = gjson.GetBytes(body, "content.0.text").String()
	case "gemini":
		text = gjson.GetBytes(body, "candidates.0.content.parts.0.text").String()
	default:
		text = gjson.GetBytes(body, "choices.0.message.content").String()
	}
	if strings.TrimSpace(text) == "" {
		result.Reason = "empty completion text"
		return result
	}

	result.Success = true
	return result
}

// evaluateStream reads the SSE body to the end and checks at least one data
// event carried content. A 2xx status with zero events is a failure, the
// gateway should have retried or surfaced an error instead.
func (h *harness) evaluateStream(resp *http.Response, result probeResult) probeResult {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
		result.ResponseBody = truncate(string(body))
		result.Reason = "non-2xx status"
		return result
	}

	events := 0
	var last string
	scanner := bufio.NewScanner(io.LimitReader(resp.Body, maxResponseBodySize))
	// SSE data lines can exceed the default 64KB token limit.
	scanner.Buffer(make([]byte, 64<<10), maxResponseBodySize)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		events++
		last = data
	}
	if err := scanner.Err(); err != nil {
		result.Reason = errors.Wrap(err, "read stream").Error()
		return result
	}

	result.ResponseBody = truncate(last)
	if events == 0 {
		result.Reason = "stream carried no data events"
		return result
	}

	result.Success = true
	return result
}

func truncate(s string) string {
	if len(s) <= maxLoggedBodyBytes {
		return s
	}
	return s[:maxLoggedBodyBytes] + "...(truncated)"
}
