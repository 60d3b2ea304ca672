package billing

import (
	"strings"
	"sync"

	"github.com/Laisky/errors/v2"
	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"

	"github.com/Laisky/llm-gateway/common/image"
)

// Estimator approximates token counts when an upstream response carried no
// usage block (some proxies strip it). Estimates are marked as such in the
// usage metadata; exact upstream figures always win.

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
	encoderErr  error
)

func getEncoder() (*tiktoken.Tiktoken, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoder, errors.Wrap(encoderErr, "load tiktoken encoding")
}

// EstimateTextTokens counts tokens in free text with the cl100k encoding,
// falling back to a bytes/4 heuristic when the encoding is unavailable
// (offline deployments cannot fetch the BPE table).
func EstimateTextTokens(text string) int {
	if text == "" {
		return 0
	}
	enc, err := getEncoder()
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateImageTokens approximates vision input cost from pixel dimensions
// using the common 512px-tile model: base 85 plus 170 per tile.
func EstimateImageTokens(base64Payload string) int {
	width, height, err := image.SizeFromBase64(base64Payload)
	if err != nil || width <= 0 || height <= 0 {
		return 85
	}
	tiles := ((width + 511) / 512) * ((height + 511) / 512)
	if tiles < 1 {
		tiles = 1
	}
	return 85 + 170*tiles
}

// EstimateRequestTokens walks a request body (any supported dialect) and
// sums text and inline image token estimates over its message content.
func EstimateRequestTokens(body []byte) int {
	total := 0
	count := func(text string) {
		total += EstimateTextTokens(text)
	}

	// Claude and OpenAI: messages[].content as string or content parts.
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if content.Type == gjson.String {
			count(content.String())
			return true
		}
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text":
				count(part.Get("text").String())
			case "image":
				total += EstimateImageTokens(part.Get("source.data").String())
			case "image_url":
				url := part.Get("image_url.url").String()
				if strings.HasPrefix(url, "data:") {
					total += EstimateImageTokens(url)
				} else {
					total += 85
				}
			}
			return true
		})
		return true
	})

	// Claude system prompt (string or blocks).
	system := gjson.GetBytes(body, "system")
	if system.Type == gjson.String {
		count(system.String())
	} else {
		system.ForEach(func(_, part gjson.Result) bool {
			count(part.Get("text").String())
			return true
		})
	}

	// Gemini: contents[].parts[].text plus inline images.
	gjson.GetBytes(body, "contents").ForEach(func(_, content gjson.Result) bool {
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				count(text.String())
			}
			if data := part.Get("inlineData.data"); data.Exists() {
				total += EstimateImageTokens(data.String())
			}
			return true
		})
		return true
	})

	return total
}
