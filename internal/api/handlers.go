package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callwatch/internal/engine"
	"callwatch/internal/logging"
	"callwatch/internal/models"
)

// Store is the persistence surface the handlers need.
type Store interface {
	CreateRule(ctx context.Context, r models.Rule) error
	UpdateRule(ctx context.Context, r models.Rule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	GetRule(ctx context.Context, id uuid.UUID) (models.Rule, error)
	ListRules(ctx context.Context) ([]models.Rule, error)
	CreateAction(ctx context.Context, a models.Action) error
	DeleteAction(ctx context.Context, id uuid.UUID) error
	ListActions(ctx context.Context, ruleID uuid.UUID) ([]models.Action, error)
	ListDispatchRecords(ctx context.Context, status models.DispatchStatus, limit, offset int) ([]models.DispatchRecord, error)
	ListEvents(ctx context.Context, since time.Time, limit int) ([]models.Event, error)
}

// CycleRunner triggers one fetch-and-evaluate cycle on demand.
type CycleRunner interface {
	RunOnce(ctx context.Context) (engine.CycleReport, error)
}

type Handler struct {
	store  Store
	poller CycleRunner
	logger *logging.Logger
}

func NewHandler(store Store, poller CycleRunner, logger *logging.Logger) *Handler {
	return &Handler{store: store, poller: poller, logger: logger}
}

func (h *Handler) CreateRule(c *gin.Context) {
	var req models.RuleCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid rule request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	rule := models.Rule{
		ID:              uuid.New(),
		Name:            req.Name,
		Description:     req.Description,
		Category:        req.Category,
		PatternKind:     req.PatternKind,
		PatternValue:    req.PatternValue,
		ThresholdCount:  req.ThresholdCount,
		ThresholdWindow: time.Duration(req.ThresholdWindow) * time.Second,
		ClearOnMatch:    req.ClearOnMatch,
		Enabled:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if rule.Category != "" && !models.ValidCategory(rule.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}
	if err := engine.ValidateRule(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.CreateRule(c.Request.Context(), rule); err != nil {
		h.logger.Errorf("Create rule failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create rule"})
		return
	}
	h.logger.Infof("Created rule %s (%s)", rule.Name, rule.ID)
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) GetRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}

	rule, err := h.store.GetRule(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.store.ListRules(c.Request.Context())
	if err != nil {
		h.logger.Errorf("List rules failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rules"})
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *Handler) UpdateRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}

	existing, err := h.store.GetRule(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}

	var req models.RuleCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.Category = req.Category
	existing.PatternKind = req.PatternKind
	existing.PatternValue = req.PatternValue
	existing.ThresholdCount = req.ThresholdCount
	existing.ThresholdWindow = time.Duration(req.ThresholdWindow) * time.Second
	existing.ClearOnMatch = req.ClearOnMatch
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}

	if existing.Category != "" && !models.ValidCategory(existing.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}
	if err := engine.ValidateRule(existing); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.UpdateRule(c.Request.Context(), existing); err != nil {
		h.logger.Errorf("Update rule %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update rule"})
		return
	}
	h.logger.Infof("Updated rule %s", id)
	c.JSON(http.StatusOK, existing)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}

	if err := h.store.DeleteRule(c.Request.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		h.logger.Errorf("Delete rule %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete rule"})
		return
	}
	h.logger.Infof("Deleted rule %s", id)
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted"})
}

func (h *Handler) CreateAction(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}
	if _, err := h.store.GetRule(c.Request.Context(), ruleID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}

	var req models.ActionCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Kind {
	case models.ActionEmail, models.ActionWebhook, models.ActionGoogleChat, models.ActionTelegram, models.ActionLog:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action kind"})
		return
	}

	action := models.Action{
		ID:        uuid.New(),
		RuleID:    ruleID,
		Kind:      req.Kind,
		Config:    req.Config,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if req.Enabled != nil {
		action.Enabled = *req.Enabled
	}

	if err := h.store.CreateAction(c.Request.Context(), action); err != nil {
		h.logger.Errorf("Create action failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create action"})
		return
	}
	h.logger.Infof("Bound %s action %s to rule %s", action.Kind, action.ID, ruleID)
	c.JSON(http.StatusCreated, action)
}

func (h *Handler) ListActions(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}

	actions, err := h.store.ListActions(c.Request.Context(), ruleID)
	if err != nil {
		h.logger.Errorf("List actions for rule %s failed: %v", ruleID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list actions"})
		return
	}
	c.JSON(http.StatusOK, actions)
}

func (h *Handler) DeleteAction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action id"})
		return
	}

	if err := h.store.DeleteAction(c.Request.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Action not found"})
			return
		}
		h.logger.Errorf("Delete action %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete action"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Action deleted"})
}

// ListAlerts returns dispatch history, optionally filtered by status.
func (h *Handler) ListAlerts(c *gin.Context) {
	status := models.DispatchStatus(c.Query("status"))
	switch status {
	case "", models.DispatchPending, models.DispatchSuccess, models.DispatchFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}

	records, err := h.store.ListDispatchRecords(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.logger.Errorf("List alerts failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, records)
}

// ListEvents returns recently admitted events, newest first.
func (h *Handler) ListEvents(c *gin.Context) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}

	limit := 100
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}

	events, err := h.store.ListEvents(c.Request.Context(), since, limit)
	if err != nil {
		h.logger.Errorf("List events failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// TriggerPoll runs one polling cycle immediately and returns its report.
func (h *Handler) TriggerPoll(c *gin.Context) {
	if h.poller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Polling source not configured"})
		return
	}

	report, err := h.poller.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Manual poll failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}
