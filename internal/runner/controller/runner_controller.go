// Package controller exposes the runner over HTTP.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"coderunner/internal/common/http/middleware"
	"coderunner/internal/runner/service"
	"coderunner/internal/sandbox/policy"
	"coderunner/internal/sandbox/result"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// envelopeSlack covers JSON escaping and the fields around the code.
const envelopeSlack = 16 * 1024

// Submitter is the part of the runner service the handlers use.
type Submitter interface {
	Submit(ctx context.Context, req service.SubmissionRequest) (result.SubmissionResult, error)
	Health() error
	Catalog() *policy.Catalog
}

// RunnerController handles execute, health and policy requests.
type RunnerController struct {
	runner       Submitter
	maxBodyBytes int64
}

// NewRunnerController creates a new controller.
func NewRunnerController(runner Submitter) *RunnerController {
	return &RunnerController{
		runner:       runner,
		maxBodyBytes: MaxBodyBytes(runner.Catalog().Limits().MaxCodeBytes),
	}
}

// MaxBodyBytes is the largest request body accepted for a code ceiling.
// A JSON string may escape each byte to six.
func MaxBodyBytes(maxCodeBytes int64) int64 {
	return maxCodeBytes*6 + envelopeSlack
}

// ExecuteRequest is the execute payload. Code stays raw so a missing field
// and a non-string value can be told apart.
type ExecuteRequest struct {
	Code      json.RawMessage   `json:"code"`
	Language  string            `json:"language"`
	Overrides map[string]string `json:"overrides"`
}

// Execute runs one snippet and returns its result.
func (h *RunnerController) Execute(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErr.New(appErr.CodeTooLarge))
			return
		}
		response.BadRequest(c, "Invalid request body")
		return
	}

	var req ExecuteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		response.BadRequest(c, "Invalid JSON body")
		return
	}
	raw := bytes.TrimSpace(req.Code)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		response.Error(c, appErr.New(appErr.CodeEmpty))
		return
	}
	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		response.BadRequest(c, "Code must be a string")
		return
	}

	res, err := h.runner.Submit(c.Request.Context(), service.SubmissionRequest{
		Code:      code,
		Language:  req.Language,
		Overrides: req.Overrides,
		RequestID: middleware.RequestIDFromContext(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// HealthResponse reports readiness.
type HealthResponse struct {
	Ready              bool     `json:"ready"`
	PolicyVersion      string   `json:"policyVersion,omitempty"`
	SupportedLanguages []string `json:"supportedLanguages"`
	Reason             string   `json:"reason,omitempty"`
}

// Health reports whether a submission accepted now could run.
func (h *RunnerController) Health(c *gin.Context) {
	catalog := h.runner.Catalog()
	resp := HealthResponse{Ready: true, PolicyVersion: catalog.Version(), SupportedLanguages: catalog.Languages()}
	if err := h.runner.Health(); err != nil {
		resp.Ready = false
		resp.Reason = err.Error()
		response.ServiceUnavailable(c, resp)
		return
	}
	response.Success(c, resp)
}

// Policy returns the loaded capability allow-list and limits.
func (h *RunnerController) Policy(c *gin.Context) {
	response.Success(c, h.runner.Catalog().Summary())
}

// Register mounts the handlers on router. execute carries extra per-route
// middleware such as rate limiting.
func (h *RunnerController) Register(router gin.IRouter, execute ...gin.HandlerFunc) {
	router.GET("/health", h.Health)
	api := router.Group("/api/v1")
	api.POST("/execute", append(execute, h.Execute)...)
	api.GET("/policy", h.Policy)
}
