package app

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"portal/threads/internal/comment"
	"portal/threads/internal/thread"
)

const (
	roleHeader      = "X-Portal-Role"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

type HTTPServer struct {
	service     *Service
	log         *zap.Logger
	serviceName string
}

// NewHTTPServer builds the local surface. A non-empty serviceName turns on
// request tracing.
func NewHTTPServer(service *Service, log *zap.Logger, serviceName string) *HTTPServer {
	return &HTTPServer{service: service, log: log.Named("http"), serviceName: serviceName}
}

func (s *HTTPServer) Handler() http.Handler {
	router := gin.New()
	if s.serviceName != "" {
		router.Use(otelgin.Middleware(s.serviceName))
	}
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	api := router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.HEAD("/health", s.handleHealth)
	api.GET("/ready", s.handleReady)
	api.GET("/forest", s.handleForest)
	api.GET("/permissions", s.handlePermissions)
	api.POST("/scope", s.handleOpenScope)
	api.POST("/refresh", s.handleRefresh)
	api.POST("/comments", s.handleCreate)
	api.PUT("/comments/:id", s.handleEdit)
	api.DELETE("/comments/:id", s.handleDelete)
	api.POST("/comments/:id/reactions", s.handleReact)
	api.DELETE("/comments/:id/reactions", s.handleUnreact)
	api.POST("/comments/:id/flag", s.handleFlag)
	return router
}

func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		log := s.log.With(zap.String("request_id", requestID))
		c.Set(loggerKey, log)

		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func requestLog(c *gin.Context) *zap.Logger {
	if log, ok := c.Get(loggerKey); ok {
		if l, ok := log.(*zap.Logger); ok {
			return l
		}
	}
	return zap.NewNop()
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := gin.H{"snapshots": gin.H{"status": "ok"}}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["snapshots"] = gin.H{"status": "error", "error": err.Error()}
	}
	c.JSON(statusCode, gin.H{"ok": status == "ready", "status": status, "checks": checks})
}

func (s *HTTPServer) handleForest(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Forest())
}

func (s *HTTPServer) handlePermissions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"permissions": s.service.Permissions(c.GetHeader(roleHeader))})
}

func (s *HTTPServer) handleOpenScope(c *gin.Context) {
	var body struct {
		Kind comment.ScopeKind `json:"kind"`
		ID   int64             `json:"id"`
	}
	if err := bindBody(c, &body); err != nil {
		s.fail(c, "decode body", err)
		return
	}
	scope := comment.Scope{Kind: body.Kind, ID: body.ID}
	if err := s.service.OpenScope(c.Request.Context(), scope); err != nil {
		s.fail(c, "open scope", err)
		return
	}
	c.JSON(http.StatusOK, s.service.Forest())
}

func (s *HTTPServer) handleRefresh(c *gin.Context) {
	if err := s.service.Refresh(c.Request.Context()); err != nil {
		s.fail(c, "refresh", err)
		return
	}
	c.JSON(http.StatusOK, s.service.Forest())
}

func (s *HTTPServer) handleCreate(c *gin.Context) {
	var body struct {
		Text        string `json:"text"`
		ParentID    *int64 `json:"parentId"`
		IsAnonymous bool   `json:"isAnonymous"`
		Role        string `json:"role"`
	}
	if err := bindBody(c, &body); err != nil {
		s.fail(c, "decode body", err)
		return
	}
	created, err := s.service.Create(c.Request.Context(), roleHint(c, body.Role), thread.CreateRequest{
		Text:        body.Text,
		ParentID:    body.ParentID,
		IsAnonymous: body.IsAnonymous,
	})
	if err != nil {
		s.fail(c, "create comment", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": created})
}

func (s *HTTPServer) handleEdit(c *gin.Context) {
	id, err := commentID(c)
	if err != nil {
		s.fail(c, "parse comment id", err)
		return
	}
	var body struct {
		Text string `json:"text"`
		Role string `json:"role"`
	}
	if err := bindBody(c, &body); err != nil {
		s.fail(c, "decode body", err)
		return
	}
	edited, err := s.service.Edit(c.Request.Context(), roleHint(c, body.Role), id, body.Text)
	if err != nil {
		s.fail(c, "edit comment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comment": edited})
}

func (s *HTTPServer) handleDelete(c *gin.Context) {
	id, err := commentID(c)
	if err != nil {
		s.fail(c, "parse comment id", err)
		return
	}
	if err := s.service.Delete(c.Request.Context(), roleHint(c, ""), id); err != nil {
		s.fail(c, "delete comment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleReact(c *gin.Context) {
	id, err := commentID(c)
	if err != nil {
		s.fail(c, "parse comment id", err)
		return
	}
	var body struct {
		ReactionID string `json:"reactionId"`
		Role       string `json:"role"`
	}
	if err := bindBody(c, &body); err != nil {
		s.fail(c, "decode body", err)
		return
	}
	if err := s.service.React(c.Request.Context(), roleHint(c, body.Role), id, body.ReactionID); err != nil {
		s.fail(c, "react", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleUnreact(c *gin.Context) {
	id, err := commentID(c)
	if err != nil {
		s.fail(c, "parse comment id", err)
		return
	}
	if err := s.service.Unreact(c.Request.Context(), roleHint(c, ""), id); err != nil {
		s.fail(c, "unreact", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleFlag(c *gin.Context) {
	id, err := commentID(c)
	if err != nil {
		s.fail(c, "parse comment id", err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
		Role   string `json:"role"`
	}
	if err := bindBody(c, &body); err != nil {
		s.fail(c, "decode body", err)
		return
	}
	if err := s.service.Flag(c.Request.Context(), roleHint(c, body.Role), id, body.Reason); err != nil {
		s.fail(c, "flag comment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) fail(c *gin.Context, op string, err error) {
	status, code, message, details := mapError(err)
	log := requestLog(c)
	if status >= http.StatusInternalServerError {
		log.Error(op+" failed", zap.String("code", code), zap.Error(err))
	} else {
		log.Debug(op+" rejected", zap.String("code", code), zap.Error(err))
	}
	writeError(c, status, code, message, details)
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.AbortWithStatusJSON(status, response)
}

// bindBody decodes an optional JSON body. An empty body leaves target as is.
func bindBody(c *gin.Context, target any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(target); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return nil
}

func commentID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment id must be a positive integer", map[string]any{"id": c.Param("id")})
	}
	return id, nil
}

// roleHint prefers the header over a body field.
func roleHint(c *gin.Context, fromBody string) string {
	if header := strings.TrimSpace(c.GetHeader(roleHeader)); header != "" {
		return strings.ToLower(header)
	}
	return strings.ToLower(strings.TrimSpace(fromBody))
}
