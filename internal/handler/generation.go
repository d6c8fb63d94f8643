package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codemage/backend/internal/service"
)

type GenerationHandler struct {
	service *service.GenerationService
}

func NewGenerationHandler(service *service.GenerationService) *GenerationHandler {
	return &GenerationHandler{
		service: service,
	}
}

// StartGenerationDTO 发起插件生成请求
type StartGenerationDTO struct {
	Description string `json:"description" binding:"required,max=2000"`
	Origin      string `json:"origin"`
}

// FeedbackDTO 确认/修改时附带的用户反馈
type FeedbackDTO struct {
	Feedback string `json:"feedback"`
}

// ModifyDTO 修改预览产物请求
type ModifyDTO struct {
	Target   string `json:"target" binding:"required"`
	Feedback string `json:"feedback" binding:"required"`
}

// Start 创建插件生成任务，预览阶段在后台执行
func (h *GenerationHandler) Start(c *gin.Context) {
	var req StartGenerationDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.service.Start(c.Request.Context(), req.Description, req.Origin, nil)
	if err != nil {
		if errors.Is(err, service.ErrGenerationInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, task)
}

// Active 返回进行中的任务，没有任务时返回 404
func (h *GenerationHandler) Active(c *gin.Context) {
	task, err := h.service.Active(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "没有进行中的生成任务"})
		return
	}

	c.JSON(http.StatusOK, task)
}

// Status 返回进行中任务的进度快照
func (h *GenerationHandler) Status(c *gin.Context) {
	info, err := h.service.Status(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrNoActiveTask) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, info)
}

func (h *GenerationHandler) Get(c *gin.Context) {
	task, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	c.JSON(http.StatusOK, task)
}

// Approve 确认预览产物，开始构建。feedback 非空时先按反馈调整元数据
func (h *GenerationHandler) Approve(c *gin.Context) {
	var req FeedbackDTO
	// 允许空 body，等价于无反馈确认
	_ = c.ShouldBindJSON(&req)

	if err := h.service.Approve(c.Request.Context(), req.Feedback); err != nil {
		h.writeConfirmationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "构建已开始"})
}

// Reject 放弃当前预览，任务删除
func (h *GenerationHandler) Reject(c *gin.Context) {
	if err := h.service.Reject(c.Request.Context()); err != nil {
		h.writeConfirmationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "已放弃本次生成"})
}

// Modify 按反馈修改预览产物，target 取 config、docs、metadata、all
func (h *GenerationHandler) Modify(c *gin.Context) {
	var req ModifyDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.Modify(c.Request.Context(), req.Target, req.Feedback); err != nil {
		h.writeConfirmationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "预览已更新"})
}

func (h *GenerationHandler) writeConfirmationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoActiveTask):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotAwaitingConfirmation):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrPluginExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
