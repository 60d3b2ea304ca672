package billing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateTextTokens(t *testing.T) {
	require.Zero(t, EstimateTextTokens(""))
	require.Greater(t, EstimateTextTokens("hello world"), 0)

	short := EstimateTextTokens("hi")
	long := EstimateTextTokens("a considerably longer sentence with many more words in it")
	require.Greater(t, long, short)
}

func TestEstimateRequestTokensMessages(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hello world"}]}`)
	require.Equal(t, EstimateTextTokens("hello world"), EstimateRequestTokens(body))
}

func TestEstimateRequestTokensContentParts(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[
		{"type":"text","text":"describe this"},
		{"type":"image_url","image_url":{"url":"https://example.com/a.png"}}
	]}]}`)
	// Remote images without dimensions cost the base tile estimate.
	require.Equal(t, EstimateTextTokens("describe this")+85, EstimateRequestTokens(body))
}

func TestEstimateRequestTokensSystemString(t *testing.T) {
	body := []byte(`{"system":"be terse","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, EstimateTextTokens("be terse")+EstimateTextTokens("hi"), EstimateRequestTokens(body))
}

func TestEstimateRequestTokensSystemBlocks(t *testing.T) {
	body := []byte(`{"system":[{"type":"text","text":"be terse"}],"messages":[]}`)
	require.Equal(t, EstimateTextTokens("be terse"), EstimateRequestTokens(body))
}

func TestEstimateRequestTokensGeminiContents(t *testing.T) {
	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"ping"},{"text":"pong"}]}]}`)
	require.Equal(t, EstimateTextTokens("ping")+EstimateTextTokens("pong"), EstimateRequestTokens(body))
}

func TestEstimateRequestTokensEmptyBody(t *testing.T) {
	require.Zero(t, EstimateRequestTokens([]byte(`{}`)))
}

func TestEstimateImageTokensInvalidPayload(t *testing.T) {
	require.Equal(t, 85, EstimateImageTokens("not-base64!"))
}
