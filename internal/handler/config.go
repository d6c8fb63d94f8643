package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codemage/backend/config"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// Get 返回脱敏后的运行配置，密钥和口令不出站
func (h *ConfigHandler) Get(c *gin.Context) {
	redacted := *h.cfg
	if redacted.LLM.APIKey != "" {
		redacted.LLM.APIKey = "******"
	}
	if redacted.Generation.APIPasswordMD5 != "" {
		redacted.Generation.APIPasswordMD5 = "******"
	}

	c.JSON(http.StatusOK, redacted)
}
