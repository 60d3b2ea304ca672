package envelope

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Laisky/llm-gateway/common/config"
)

const anthropicVersion = "2023-06-01"

// mandatoryCLIBetaTokens must accompany every claude-code upstream call;
// callers' own anthropic-beta tokens are merged in and deduplicated.
var mandatoryCLIBetaTokens = []string{
	"claude-code-20250219",
	"oauth-2025-04-20",
	"interleaved-thinking-2025-05-14",
}

// skipSignaturePlaceholder marks thinking blocks whose signature was never
// validated; such blocks must not be forwarded.
const skipSignaturePlaceholder = "skip_thought_signature_validator"

type claudeChatEnvelope struct{}

func (claudeChatEnvelope) WrapRequest(body []byte, _ bool) ([]byte, error) {
	return body, nil
}

func (claudeChatEnvelope) ExtraHeaders(inbound http.Header) map[string]string {
	headers := map[string]string{"anthropic-version": anthropicVersion}
	if beta := inbound.Get("anthropic-beta"); beta != "" {
		headers["anthropic-beta"] = beta
	}
	return headers
}

type claudeCLIEnvelope struct{}

func (claudeCLIEnvelope) WrapRequest(body []byte, _ bool) ([]byte, error) {
	body, err := SanitizeThinkingBlocks(body)
	if err != nil {
		return nil, errors.Wrap(err, "sanitize thinking blocks")
	}
	if ttl := config.ClaudeCacheTTLUnified; ttl != "" {
		body, err = NormalizeCacheTTL(body, ttl)
		if err != nil {
			return nil, errors.Wrap(err, "normalize cache ttl")
		}
	}
	return body, nil
}

func (claudeCLIEnvelope) ExtraHeaders(inbound http.Header) map[string]string {
	return map[string]string{
		"anthropic-version": anthropicVersion,
		"anthropic-beta":    MergeBetaTokens(inbound.Get("anthropic-beta")),
	}
}

// MergeBetaTokens unions the mandatory CLI beta tokens with the caller's
// CSV, deduplicated in first-seen order, minus the configured exclusions.
func MergeBetaTokens(callerCSV string) string {
	excluded := map[string]bool{}
	for _, token := range config.ClaudeExcludedBetaTokens {
		excluded[token] = true
	}

	seen := map[string]bool{}
	var merged []string
	add := func(token string) {
		token = strings.TrimSpace(token)
		if token == "" || seen[token] || excluded[token] {
			return
		}
		seen[token] = true
		merged = append(merged, token)
	}
	for _, token := range mandatoryCLIBetaTokens {
		add(token)
	}
	for _, token := range strings.Split(callerCSV, ",") {
		add(token)
	}
	return strings.Join(merged, ",")
}

// SanitizeThinkingBlocks drops thinking and redacted_thinking content blocks
// unless extended thinking is enabled on the request AND the block carries a
// real signature. Unsigned blocks leak across accounts and upstreams reject
// them.
func SanitizeThinkingBlocks(body []byte) ([]byte, error) {
	thinkingType := gjson.GetBytes(body, "thinking.type").String()
	keepSigned := thinkingType == "enabled" || thinkingType == "adaptive"

	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body, nil
	}

	out := body
	var err error
	for msgIdx, msg := range messages.Array() {
		content := msg.Get("content")
		if !content.IsArray() {
			continue
		}
		// Collect indexes to drop, then delete back to front so earlier
		// removals do not shift later paths.
		var drop []int
		for blockIdx, block := range content.Array() {
			blockType := block.Get("type").String()
			if blockType != "thinking" && blockType != "redacted_thinking" {
				continue
			}
			signature := block.Get("signature").String()
			if keepSigned && signature != "" && signature != skipSignaturePlaceholder {
				continue
			}
			drop = append(drop, blockIdx)
		}
		for i := len(drop) - 1; i >= 0; i-- {
			path := "messages." + strconv.Itoa(msgIdx) + ".content." + strconv.Itoa(drop[i])
			out, err = sjson.DeleteBytes(out, path)
			if err != nil {
				return nil, errors.Wrap(err, "delete thinking block")
			}
		}
	}
	return out, nil
}

// NormalizeCacheTTL unifies every cache_control object in the request:
// type is forced to ephemeral and the ttl key follows the unified class
// ("ephemeral" drops ttl, "1h" pins it).
func NormalizeCacheTTL(body []byte, unified string) ([]byte, error) {
	out := body
	var err error
	rewrite := func(path string) error {
		if !gjson.GetBytes(out, path).Exists() {
			return nil
		}
		if out, err = sjson.SetBytes(out, path+".type", "ephemeral"); err != nil {
			return errors.Wrap(err, "set cache_control type")
		}
		switch unified {
		case "1h":
			if out, err = sjson.SetBytes(out, path+".ttl", "1h"); err != nil {
				return errors.Wrap(err, "set cache_control ttl")
			}
		default:
			if out, err = sjson.DeleteBytes(out, path+".ttl"); err != nil {
				return errors.Wrap(err, "drop cache_control ttl")
			}
		}
		return nil
	}

	for msgIdx, msg := range gjson.GetBytes(body, "messages").Array() {
		content := msg.Get("content")
		if !content.IsArray() {
			continue
		}
		for blockIdx := range content.Array() {
			path := "messages." + strconv.Itoa(msgIdx) + ".content." + strconv.Itoa(blockIdx) + ".cache_control"
			if err := rewrite(path); err != nil {
				return nil, err
			}
		}
	}
	for blockIdx := range gjson.GetBytes(body, "system").Array() {
		if err := rewrite("system." + strconv.Itoa(blockIdx) + ".cache_control"); err != nil {
			return nil, err
		}
	}
	for toolIdx := range gjson.GetBytes(body, "tools").Array() {
		if err := rewrite("tools." + strconv.Itoa(toolIdx) + ".cache_control"); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CacheTTLMinutes reports the cache TTL class a request pins, in minutes,
// for cache-TTL-specific pricing (0 = default 5 minute class or none).
func CacheTTLMinutes(body []byte) int {
	found := 0
	walk := func(block gjson.Result) {
		ttl := block.Get("cache_control.ttl").String()
		if ttl == "1h" {
			found = 60
		}
	}
	for _, msg := range gjson.GetBytes(body, "messages").Array() {
		for _, block := range msg.Get("content").Array() {
			walk(block)
		}
	}
	for _, block := range gjson.GetBytes(body, "system").Array() {
		walk(block)
	}
	return found
}
