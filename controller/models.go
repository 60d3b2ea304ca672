package controller

import (
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/llm-gateway/common/ctxkey"
	"github.com/Laisky/llm-gateway/middleware"
	dbmodel "github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/relay/apiformat"
	relaymodel "github.com/Laisky/llm-gateway/relay/model"
)

// ListModels answers the model listing in the shape of the detected
// dialect, restricted to models the token may use.
func ListModels(c *gin.Context) {
	token := c.MustGet(ctxkey.Token).(*dbmodel.AccessToken)

	names, err := token.VisibleModelNames()
	if err != nil {
		gmw.GetLogger(c).Error("list visible models", zap.Error(err))
		middleware.AbortWithError(c, http.StatusInternalServerError, "failed to list models")
		return
	}

	switch middleware.RequestDialect(c).Family() {
	case apiformat.FamilyClaude:
		list := relaymodel.ClaudeModelList{Data: []relaymodel.ClaudeModel{}}
		for _, name := range names {
			list.Data = append(list.Data, relaymodel.ClaudeModel{
				Type:        "model",
				Id:          name,
				DisplayName: name,
				CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			})
		}
		if n := len(list.Data); n > 0 {
			list.FirstId = list.Data[0].Id
			list.LastId = list.Data[n-1].Id
		}
		c.JSON(http.StatusOK, list)

	case apiformat.FamilyGemini:
		list := relaymodel.GeminiModelList{Models: []relaymodel.GeminiModel{}}
		for _, name := range names {
			list.Models = append(list.Models, relaymodel.GeminiModel{
				Name:                       "models/" + name,
				DisplayName:                name,
				SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent"},
			})
		}
		c.JSON(http.StatusOK, list)

	default:
		list := relaymodel.OpenAIModelList{Object: "list", Data: []relaymodel.OpenAIModel{}}
		for _, name := range names {
			list.Data = append(list.Data, relaymodel.OpenAIModel{
				Id:      name,
				Object:  "model",
				Created: time.Now().Unix(),
				OwnedBy: "llm-gateway",
			})
		}
		c.JSON(http.StatusOK, list)
	}
}
