package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/wartungswerk/fieldsync/internal/localstore"
	"github.com/wartungswerk/fieldsync/internal/offline"
	"github.com/wartungswerk/fieldsync/internal/record"
	"github.com/wartungswerk/fieldsync/internal/remote"
	"github.com/wartungswerk/fieldsync/internal/syncer"
	"go.uber.org/zap"
)

var (
	errMissingStore       = errors.New("local store dependency required")
	errMissingClient      = errors.New("offline client dependency required")
	errMissingCoordinator = errors.New("sync coordinator dependency required")
)

// SyncRunner drives sync passes and exposes their result stream.
type SyncRunner interface {
	SyncAll(ctx context.Context) syncer.Result
	Dispatcher() *syncer.Dispatcher
}

// Dependencies wires the local API surface the PWA shell talks to.
type Dependencies struct {
	Store         *localstore.Store
	Client        *offline.Client
	Coordinator   SyncRunner
	AllowedOrigin string
	Logger        *zap.Logger
}

// NewHTTPHandler builds the process-local HTTP surface. All mutations route
// through the offline-aware client so the cache and queue stay consistent.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Client == nil {
		return nil, errMissingClient
	}
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	allowedOrigin := deps.AllowedOrigin
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{allowedOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:       deps.Store,
		client:      deps.Client,
		coordinator: deps.Coordinator,
		logger:      logger,
	}

	api := router.Group("/api")
	api.POST("/auth/login", handler.handleLogin)
	api.POST("/auth/logout", handler.handleLogout)
	api.GET("/status", handler.handleStatus)
	api.POST("/sync", handler.handleSync)
	api.GET("/events", handler.handleEvents)
	api.GET("/assignments", handler.handleListAssignments)
	api.GET("/assignments/:assignmentID", handler.handleGetAssignment)
	api.PUT("/assignments/:assignmentID/status", handler.handleAssignmentStatus)
	api.POST("/assignments/:assignmentID/assets", handler.handleCreateAsset)
	api.POST("/assignments/:assignmentID/assets/:assetID/processed", handler.handleMarkProcessed)
	api.PATCH("/assets/:assetID", handler.handleUpdateAsset)
	api.GET("/codes", handler.handleSearchCodes)
	api.GET("/queue", handler.handleQueue)
	api.DELETE("/local-data", handler.handleClearLocalData)

	return router, nil
}

type httpHandler struct {
	store       *localstore.Store
	client      *offline.Client
	coordinator SyncRunner
	logger      *zap.Logger
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.client.Login(c.Request.Context(), remote.Credentials{
		Username: request.Username,
		Password: request.Password,
	})
	if err != nil {
		h.logger.Warn("login failed", zap.Error(err))
		status := http.StatusBadGateway
		if remote.IsAuth(err) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"userName": session.UserName})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.client.Logout(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	state, err := h.store.GetOfflineState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pending, err := h.store.PendingCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"isOnline":             state.IsOnline,
		"lastOnlineAt":         state.LastOnlineAt,
		"pendingSyncCount":     pending,
		"lastSyncAttemptAt":    state.LastSyncAttemptAt,
		"lastSuccessfulSyncAt": state.LastSuccessfulSyncAt,
	})
}

func (h *httpHandler) handleSync(c *gin.Context) {
	result := h.coordinator.SyncAll(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

// handleEvents streams sync pass results as server-sent events so the shell
// can surface outcomes without polling.
func (h *httpHandler) handleEvents(c *gin.Context) {
	results, cleanup := h.coordinator.Dispatcher().Subscribe(c.Request.Context())
	defer cleanup()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case result, ok := <-results:
			if !ok {
				return false
			}
			c.SSEvent("sync", result)
			return true
		}
	})
}

func (h *httpHandler) handleListAssignments(c *gin.Context) {
	assignments, err := h.store.ListAssignments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, assignments)
}

func (h *httpHandler) handleGetAssignment(c *gin.Context) {
	assignment, err := h.store.GetAssignment(c.Request.Context(), c.Param("assignmentID"))
	if errors.Is(err, localstore.ErrNotCached) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_cached"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, assignment)
}

type statusPayload struct {
	Status string `json:"status"`
}

func (h *httpHandler) handleAssignmentStatus(c *gin.Context) {
	assignmentID, err := record.NewAssignmentID(c.Param("assignmentID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_assignment_id"})
		return
	}

	var request statusPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	status, err := record.NewAssignmentStatus(request.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}

	if err := h.client.SetAssignmentStatus(c.Request.Context(), assignmentID, status); err != nil {
		h.respondWriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreateAsset(c *gin.Context) {
	assignmentID, err := record.NewAssignmentID(c.Param("assignmentID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_assignment_id"})
		return
	}

	var draft record.AssetDraft
	if err := c.ShouldBindJSON(&draft); err != nil || draft.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	link, err := h.client.CreateAsset(c.Request.Context(), assignmentID, draft)
	if err != nil {
		h.respondWriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (h *httpHandler) handleMarkProcessed(c *gin.Context) {
	assignmentID, err := record.NewAssignmentID(c.Param("assignmentID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_assignment_id"})
		return
	}
	assetID, err := record.NewAssetID(c.Param("assetID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_asset_id"})
		return
	}

	var request struct {
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.client.MarkProcessed(c.Request.Context(), assignmentID, assetID, request.Notes); err != nil {
		if errors.Is(err, localstore.ErrNotCached) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_cached"})
			return
		}
		h.respondWriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUpdateAsset(c *gin.Context) {
	assetID, err := record.NewAssetID(c.Param("assetID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_asset_id"})
		return
	}

	var patch record.AssetPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.client.UpdateAsset(c.Request.Context(), assetID, patch); err != nil {
		h.respondWriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSearchCodes(c *gin.Context) {
	codes, err := h.store.SearchReferenceCodes(c.Request.Context(), c.Query("q"), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, codes)
}

func (h *httpHandler) handleQueue(c *gin.Context) {
	items, err := h.store.QueueItems(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, items)
}

// handleClearLocalData discards every cached record and the mutation log. The
// shell confirms with the worker first; this is the only way unsynced work is
// ever dropped.
func (h *httpHandler) handleClearLocalData(c *gin.Context) {
	if err := h.store.ClearAllLocalData(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondWriteError(c *gin.Context, err error) {
	h.logger.Warn("write rejected", zap.Error(err))
	switch {
	case remote.IsAuth(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case remote.IsRemote(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
