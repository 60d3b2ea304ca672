package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Laisky/llm-gateway/common/ctxkey"
	"github.com/Laisky/llm-gateway/common/helper"
	"github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/relay/apiformat"
)

func newTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	prev := model.DB
	model.DB = db
	t.Cleanup(func() {
		model.DB = prev
		_ = sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(&model.AccessToken{}))
}

func seedToken(t *testing.T, key string, formats *string) {
	t.Helper()
	require.NoError(t, model.DB.Create(&model.AccessToken{
		Name:              "test",
		KeyHash:           model.HashAccessKey(key),
		Active:            true,
		AllowedAPIFormats: formats,
	}).Error)
}

func authEngine(captured **gin.Context) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/v1/messages", GatewayAuth(), func(c *gin.Context) {
		*captured = c
		c.Status(http.StatusOK)
	})
	return engine
}

func TestGatewayAuthMissingCredentials(t *testing.T) {
	newTestDB(t)
	var captured *gin.Context
	engine := authEngine(&captured)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	// The Claude path renders the Claude error envelope even unauthenticated.
	require.Equal(t, "error", gjson.Get(w.Body.String(), "type").String())
	require.Equal(t, "authentication_error", gjson.Get(w.Body.String(), "error.type").String())
}

func TestGatewayAuthRejectsUnknownKey(t *testing.T) {
	newTestDB(t)
	var captured *gin.Context
	engine := authEngine(&captured)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("x-api-key", "sk-unknown")
	req.Header.Set("anthropic-version", "2023-06-01")
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGatewayAuthResolvesTokenAndDialect(t *testing.T) {
	newTestDB(t)
	seedToken(t, "sk-valid", nil)
	var captured *gin.Context
	engine := authEngine(&captured)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("x-api-key", "sk-valid")
	req.Header.Set("anthropic-version", "2023-06-01")
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, apiformat.ClaudeChat, captured.MustGet(ctxkey.Dialect))
	token := captured.MustGet(ctxkey.Token).(*model.AccessToken)
	require.Equal(t, "test", token.Name)
	require.Equal(t, "sk-valid", captured.MustGet(ctxkey.InboundAPIKey))
}

func TestGatewayAuthEnforcesAPIFormatAllowList(t *testing.T) {
	newTestDB(t)
	formats := `["openai:chat"]`
	seedToken(t, "sk-openai-only", &formats)
	var captured *gin.Context
	engine := authEngine(&captured)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("x-api-key", "sk-openai-only")
	req.Header.Set("anthropic-version", "2023-06-01")
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAbortWithErrorSpeaksRequestDialect(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1beta/models/g:generateContent", nil)
	c.Set(ctxkey.Dialect, apiformat.GeminiChat)

	AbortWithError(c, http.StatusTooManyRequests, "slow down")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := w.Body.String()
	require.Equal(t, "RESOURCE_EXHAUSTED", gjson.Get(body, "error.status").String())
	require.Equal(t, "slow down", gjson.Get(body, "error.message").String())

	// Without a detected dialect the OpenAI shape is the fallback.
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/unknown", nil)
	AbortWithError(c, http.StatusBadRequest, "what is this")
	require.Equal(t, "invalid_request_error", gjson.Get(w.Body.String(), "error.type").String())
}

func TestRequestIdEchoesCallerValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestId())
	engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ctxkey.RequestId))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(helper.RequestIdHeader, "caller-id-1")
	engine.ServeHTTP(w, req)
	require.Equal(t, "caller-id-1", w.Body.String())
	require.Equal(t, "caller-id-1", w.Header().Get(helper.RequestIdHeader))

	// Absent header mints a fresh id.
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, w.Body.String())
	require.Equal(t, w.Body.String(), w.Header().Get(helper.RequestIdHeader))
}
