package executor

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/tidwall/sjson"

	"github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/relay/apiformat"
	"github.com/Laisky/llm-gateway/relay/envelope"
	"github.com/Laisky/llm-gateway/relay/pool"
	"github.com/Laisky/llm-gateway/relay/scheduling"
)

// buildUpstreamRequest assembles the outbound request for one candidate:
// body conversion when dialects differ, model-name rewrite, envelope
// wrapping, header merge (dialect defaults, endpoint rules, envelope
// extras, auth) and URL construction.
func (e *Executor) buildUpstreamRequest(ctx context.Context, task *Task, candidate *scheduling.Candidate, manager *pool.Manager) (*http.Request, error) {
	endpointDialect := candidate.Endpoint.DialectValue()
	upstreamModel := candidate.UpstreamModelName()

	body := task.Body
	var err error
	if candidate.NeedsConversion {
		conv := apiformat.ConversionBetween(task.Request.Dialect, endpointDialect)
		if conv == nil {
			return nil, errors.Errorf("no conversion from %s to %s", task.Request.Dialect, endpointDialect)
		}
		body, err = conv.TransformRequest(upstreamModel, body, task.Request.Stream)
		if err != nil {
			return nil, errors.Wrap(err, "convert request body")
		}
	} else if endpointDialect.Family() != apiformat.FamilyGemini {
		// Gemini carries the model in the path, everything else in the body.
		body, err = sjson.SetBytes(body, "model", upstreamModel)
		if err != nil {
			return nil, errors.Wrap(err, "rewrite model name")
		}
	}

	env := envelope.ForDialect(endpointDialect)
	body, err = env.WrapRequest(body, task.Request.Stream)
	if err != nil {
		return nil, errors.Wrap(err, "apply request envelope")
	}

	target, err := upstreamURL(candidate.Endpoint, endpointDialect, upstreamModel, task.Request.Stream)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}
	req.Header.Set("Content-Type", "application/json")
	if task.Request.Stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	rules, err := candidate.Endpoint.ParsedHeaderRules()
	if err != nil {
		return nil, errors.Wrap(err, "parse endpoint header rules")
	}
	for name, value := range rules {
		req.Header.Set(name, value)
	}
	for name, value := range env.ExtraHeaders(task.Headers) {
		req.Header.Set(name, value)
	}

	if err := e.applyAuth(ctx, req, candidate.Key, endpointDialect, manager); err != nil {
		return nil, err
	}
	return req, nil
}

// upstreamURL resolves base URL plus path, expanding the Gemini model
// placeholder and switching to the streaming verb with SSE framing.
func upstreamURL(endpoint *model.Endpoint, dialect apiformat.Dialect, upstreamModel string, stream bool) (string, error) {
	path := endpoint.CustomPath
	if path == "" {
		path = apiformat.DefaultPath(dialect)
	}
	if path == "" {
		return "", errors.Errorf("no upstream path for dialect %s", dialect)
	}
	path = strings.ReplaceAll(path, "{model}", url.PathEscape(upstreamModel))

	query := ""
	if dialect.Family() == apiformat.FamilyGemini && stream {
		path = strings.Replace(path, ":generateContent", ":streamGenerateContent", 1)
		query = "?alt=sse"
	}
	return strings.TrimSuffix(endpoint.BaseURL, "/") + path + query, nil
}

// applyAuth sets the credential header for the endpoint's dialect. OAuth
// keys exchange their refresh token for an access token through the pool's
// cached flow and always authenticate as a bearer.
func (e *Executor) applyAuth(ctx context.Context, req *http.Request, key *model.ProviderKey, dialect apiformat.Dialect, manager *pool.Manager) error {
	secret, err := key.PlainSecret()
	if err != nil {
		return errors.Wrap(err, "decrypt key secret")
	}

	if key.AuthType == model.KeyAuthOAuth {
		token, err := manager.AccessToken(ctx, pool.OAuthCredential{
			KeyId:        key.Id,
			RefreshToken: secret,
			TokenURL:     key.TokenURL,
			ClientId:     key.ClientId,
		})
		if err != nil {
			return errors.Wrap(err, "obtain oauth access token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}

	name, scheme := apiformat.AuthHeaderFor(dialect)
	switch scheme {
	case apiformat.AuthBearer:
		req.Header.Set(name, "Bearer "+secret)
	case apiformat.AuthQuery:
		q := req.URL.Query()
		q.Set(name, secret)
		req.URL.RawQuery = q.Encode()
	default:
		req.Header.Set(name, secret)
	}
	return nil
}
