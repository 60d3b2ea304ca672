package controller

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/Laisky/llm-gateway/common"
	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/ctxkey"
	"github.com/Laisky/llm-gateway/common/helper"
	"github.com/Laisky/llm-gateway/common/tracing"
	"github.com/Laisky/llm-gateway/middleware"
	dbmodel "github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/relay/apiformat"
	"github.com/Laisky/llm-gateway/relay/envelope"
	"github.com/Laisky/llm-gateway/relay/executor"
	relaymodel "github.com/Laisky/llm-gateway/relay/model"
	"github.com/Laisky/llm-gateway/relay/pool"
	"github.com/Laisky/llm-gateway/relay/scheduling"
)

// fingerprintPrefixBytes bounds how much of the body feeds the cache
// affinity fingerprint; prompts sharing this prefix land on the same key.
const fingerprintPrefixBytes = 4096

// RelayController wires the dispatch pipeline behind the relay routes.
// Collaborators are injected at startup so tests can substitute doubles.
type RelayController struct {
	scheduler *scheduling.Scheduler
	executor  *executor.Executor
}

func NewRelayController(scheduler *scheduling.Scheduler, exec *executor.Executor) *RelayController {
	return &RelayController{scheduler: scheduler, executor: exec}
}

// Relay serves one gateway request end to end: admission, candidate
// building, scheduling, execution and error rendering in the request's own
// dialect.
func (rc *RelayController) Relay(c *gin.Context) {
	lg := gmw.GetLogger(c)
	startTime := time.Now()

	dialect := middleware.RequestDialect(c)
	token := c.MustGet(ctxkey.Token).(*dbmodel.AccessToken)

	body, err := common.GetRequestBody(c)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "failed to read request body")
		return
	}
	if config.DebugEnabled {
		_ = common.LogClientRequestPayload(c, string(dialect), common.DefaultLogBodyLimit)
	}

	modelName, stream := resolveModelAndStream(c, dialect, body)
	if modelName == "" {
		middleware.AbortWithError(c, http.StatusBadRequest, "missing model name")
		return
	}
	if !token.AllowsModel(modelName) {
		middleware.AbortWithError(c, http.StatusForbidden, "this token may not use model "+modelName)
		return
	}

	globalModel, err := dbmodel.GetGlobalModelByName(modelName)
	if err != nil {
		if errIsNotFound(err) {
			middleware.AbortWithError(c, http.StatusBadRequest, "unknown model "+modelName)
			return
		}
		lg.Error("resolve model", zap.String("model", modelName), zap.Error(err))
		middleware.AbortWithError(c, http.StatusInternalServerError, "failed to resolve model")
		return
	}

	request := &scheduling.Request{
		Dialect:           dialect,
		Stream:            stream,
		GlobalModel:       globalModel,
		Token:             token,
		Capabilities:      requestedCapabilities(dialect, body),
		SessionUUID:       resolveSessionUUID(body),
		PrefixFingerprint: prefixFingerprint(body),
	}

	requestId := c.GetString(ctxkey.RequestId)
	if requestId == "" {
		requestId = helper.GenRequestID()
	}
	headerJSON, _ := json.Marshal(sanitizedHeaders(c.Request.Header))
	usage := &dbmodel.Usage{
		RequestId:      requestId,
		TraceId:        tracing.TraceID(c),
		TokenId:        token.Id,
		Dialect:        string(dialect),
		ModelName:      globalModel.Name,
		RequestBody:    string(body),
		RequestHeaders: string(headerJSON),
	}
	if err := dbmodel.CreateUsage(usage); err != nil {
		lg.Error("admit usage row", zap.Error(err))
		middleware.AbortWithError(c, http.StatusInternalServerError, "failed to admit request")
		return
	}
	c.Set(ctxkey.UsageId, usage.Id)

	candidates, err := scheduling.BuildCandidates(request)
	if err != nil {
		lg.Error("build candidates", zap.Error(err))
		rc.failAndRender(c, usage, startTime, http.StatusInternalServerError, "failed to plan dispatch")
		return
	}
	candidates = rc.scheduler.Order(c.Request.Context(), request, candidates)
	if !hasUsable(candidates) {
		rc.failAndRender(c, usage, startTime, http.StatusServiceUnavailable, "no upstream available")
		return
	}

	task := &executor.Task{
		Usage:      usage,
		Request:    request,
		Body:       body,
		Headers:    c.Request.Header,
		Candidates: candidates,
		StartTime:  startTime,
	}
	if relayErr := rc.executor.Execute(c, task); relayErr != nil {
		lg.Warn("relay failed", tracing.WithTraceID(c,
			zap.String("model", globalModel.Name),
			zap.Int("status_code", relayErr.StatusCode),
			zap.String("message", relayErr.Message))...)
		c.Data(relayErr.StatusCode, "application/json", relaymodel.RenderError(dialect, relayErr))
	}
}

// failAndRender voids the usage row and answers in the request dialect.
func (rc *RelayController) failAndRender(c *gin.Context, usage *dbmodel.Usage, startTime time.Time, statusCode int, message string) {
	_, err := dbmodel.FinalizeVoid(usage.Id, dbmodel.RequestStatusFailed, statusCode, "no_candidates",
		time.Since(startTime).Milliseconds())
	if err != nil {
		gmw.GetLogger(c).Error("finalize failed request", zap.Error(err))
	}
	c.Data(statusCode, "application/json",
		relaymodel.RenderError(middleware.RequestDialect(c), relaymodel.NewError(statusCode, message)))
}

// resolveModelAndStream extracts the requested model and streaming mode.
// Gemini carries both in the path; the other dialects use body fields.
func resolveModelAndStream(c *gin.Context, dialect apiformat.Dialect, body []byte) (string, bool) {
	if dialect.Family() == apiformat.FamilyGemini {
		modelName, verb := apiformat.ModelFromGeminiPath(c.Request.URL.Path)
		return modelName, strings.HasPrefix(verb, "streamGenerateContent")
	}
	root := gjson.ParseBytes(body)
	return root.Get("model").String(), root.Get("stream").Bool()
}

// requestedCapabilities derives the capability set a key must cover.
func requestedCapabilities(dialect apiformat.Dialect, body []byte) map[string]bool {
	caps := make(map[string]bool)
	if dialect == apiformat.OpenAIVideo || dialect == apiformat.GeminiVideo {
		caps["video"] = true
	}
	if dialect.Family() == apiformat.FamilyClaude && envelope.CacheTTLMinutes(body) == 60 {
		caps["cache_1h"] = true
	}
	if len(caps) == 0 {
		return nil
	}
	return caps
}

// resolveSessionUUID extracts the caller's session marker from the request
// body. Masking, when a pool opts in, happens at admission time where the
// pool config is known.
func resolveSessionUUID(body []byte) string {
	return pool.ExtractSessionID(gjson.GetBytes(body, "metadata.user_id").String())
}

// prefixFingerprint hashes the request prefix for cache affinity.
func prefixFingerprint(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	prefix := body
	if len(prefix) > fingerprintPrefixBytes {
		prefix = prefix[:fingerprintPrefixBytes]
	}
	sum := sha256.Sum256(prefix)
	return hex.EncodeToString(sum[:8])
}

func hasUsable(candidates []scheduling.Candidate) bool {
	for _, c := range candidates {
		if !c.Skipped {
			return true
		}
	}
	return false
}

// sanitizedHeaders drops credentials before headers are persisted.
func sanitizedHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		switch strings.ToLower(name) {
		case "authorization", "x-api-key", "x-goog-api-key", "cookie":
			out[name] = common.MaskSecret(values[0])
		default:
			out[name] = values[0]
		}
	}
	return out
}

func errIsNotFound(err error) bool {
	return errors.Is(err, dbmodel.ErrRecordNotFound)
}
