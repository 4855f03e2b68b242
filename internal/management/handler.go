package management

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/pkg/errors"
)

// HeaderUserID names the user recorded in the audit trail.
const HeaderUserID = "X-User-ID"

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		rules := v1.Group("/automations")
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.GET("/catalog", h.GetCatalog)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
			rules.PATCH("/:id/toggle", h.ToggleRule)
			rules.GET("/:id/audit", h.GetRuleAuditLogs)
		}
	}
}

// ListRules godoc
// @Summary      List automation rules
// @Description  List automation rules, most recently updated first
// @Tags         automations
// @Produce      json
// @Param        coachId       query     string  false  "Filter by coach"
// @Param        triggerEvent  query     string  false  "Filter by trigger event"
// @Param        isActive      query     bool    false  "Filter by active flag"
// @Param        limit         query     int     false  "Page size"
// @Param        offset        query     int     false  "Page offset"
// @Success      200  {array}   automation.Rule
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /automations [get]
func (h *Handler) ListRules(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err).WithDetail("message", "invalid list query"))
		return
	}

	rules, err := h.Service.ListRules(c.Request.Context(), ListFilter{
		CoachID:      q.CoachID,
		TriggerEvent: q.TriggerEvent,
		IsActive:     q.IsActive,
		Limit:        parseLimit(q.Limit),
		Offset:       q.Offset,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

type listQuery struct {
	CoachID      string `form:"coachId"`
	TriggerEvent string `form:"triggerEvent"`
	IsActive     *bool  `form:"isActive"`
	// Out-of-range limits fall back to the default instead of failing.
	Limit  string `form:"limit"`
	Offset int    `form:"offset" binding:"gte=0"`
}

// CreateRule godoc
// @Summary      Create an automation rule
// @Description  Create a rule that dispatches actions when its trigger event arrives
// @Tags         automations
// @Accept       json
// @Produce      json
// @Param        X-User-ID  header    string             false  "Acting user"
// @Param        rule       body      CreateRuleRequest  true   "Automation rule"
// @Success      201  {object}  automation.Rule
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /automations [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}

	rule, err := h.Service.CreateRule(requestContext(c), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// GetCatalog godoc
// @Summary      List trigger events, action types and condition operators
// @Tags         automations
// @Produce      json
// @Success      200  {object}  Catalog
// @Router       /automations/catalog [get]
func (h *Handler) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.Catalog())
}

// GetRule godoc
// @Summary      Get an automation rule
// @Tags         automations
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  automation.Rule
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /automations/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update an automation rule
// @Description  Replace the fields present in the body
// @Tags         automations
// @Accept       json
// @Produce      json
// @Param        X-User-ID  header    string             false  "Acting user"
// @Param        id         path      string             true   "Rule ID"
// @Param        rule       body      UpdateRuleRequest  true   "Fields to change"
// @Success      200  {object}  automation.Rule
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /automations/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}

	rule, err := h.Service.UpdateRule(requestContext(c), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule godoc
// @Summary      Delete an automation rule
// @Tags         automations
// @Param        X-User-ID  header  string  false  "Acting user"
// @Param        id         path    string  true   "Rule ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /automations/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.DeleteRule(requestContext(c), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ToggleRule godoc
// @Summary      Flip a rule between active and inactive
// @Tags         automations
// @Produce      json
// @Param        X-User-ID  header    string  false  "Acting user"
// @Param        id         path      string  true   "Rule ID"
// @Success      200  {object}  automation.Rule
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /automations/{id}/toggle [patch]
func (h *Handler) ToggleRule(c *gin.Context) {
	rule, err := h.Service.ToggleRule(requestContext(c), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// GetRuleAuditLogs godoc
// @Summary      Get the change history of a rule
// @Tags         automations
// @Produce      json
// @Param        id     path      string  true   "Rule ID"
// @Param        limit  query     int     false  "Max entries"
// @Success      200  {array}   AuditLog
// @Failure      500  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /automations/{id}/audit [get]
func (h *Handler) GetRuleAuditLogs(c *gin.Context) {
	logs, err := h.Service.GetAuditLogs(c.Request.Context(), c.Param("id"), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func requestContext(c *gin.Context) context.Context {
	return WithChangedBy(c.Request.Context(), c.GetHeader(HeaderUserID), c.ClientIP())
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}
