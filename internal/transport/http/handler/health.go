package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// CheckFunc probes one dependency; nil means healthy.
type CheckFunc func(ctx context.Context) error

type HealthHandler struct {
	name      string
	env       string
	startedAt time.Time
	checks    map[string]CheckFunc
	optional  map[string]bool
}

type dependencyStatus struct {
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
}

func NewHealthHandler(name, env string, startedAt time.Time) *HealthHandler {
	return &HealthHandler{
		name:      name,
		env:       env,
		startedAt: startedAt,
		checks:    map[string]CheckFunc{},
		optional:  map[string]bool{},
	}
}

// Require registers a dependency whose failure makes the service unhealthy.
func (h *HealthHandler) Require(name string, check CheckFunc) *HealthHandler {
	h.checks[name] = check
	return h
}

// Optional registers a dependency that is reported but does not fail the check.
func (h *HealthHandler) Optional(name string, check CheckFunc) *HealthHandler {
	h.checks[name] = check
	h.optional[name] = true
	return h
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	allOK := true
	deps := gin.H{}
	for _, name := range names {
		status := dependencyStatus{OK: true, Optional: h.optional[name]}
		if err := h.checks[name](ctx); err != nil {
			status = dependencyStatus{OK: false, Optional: h.optional[name], Message: err.Error()}
			if !h.optional[name] {
				allOK = false
			}
		}
		deps[name] = status
	}

	statusCode := http.StatusOK
	if !allOK {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"app":          h.name,
		"env":          h.env,
		"uptime_sec":   int(time.Since(h.startedAt).Seconds()),
		"dependencies": deps,
	})
}
