package handler

import (
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"net/http"
	"stream-recorder/constant"
	"stream-recorder/dto"
	"stream-recorder/entities"
	"stream-recorder/repository"
	"stream-recorder/service"
	"time"
)

type Handler struct {
	repo         repository.Repository
	recorder     service.Recorder
	dispatcher   *service.Dispatcher
	uploader     service.Uploader
	presignedTTL time.Duration
}

func New(
	repo repository.Repository,
	recorder service.Recorder,
	dispatcher *service.Dispatcher,
	uploader service.Uploader,
	presignedTTL time.Duration,
) *Handler {
	return &Handler{
		repo:         repo,
		recorder:     recorder,
		dispatcher:   dispatcher,
		uploader:     uploader,
		presignedTTL: presignedTTL,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/recordings", h.startRecording)
	api.GET("/recordings/active", h.activeRecordings)
	api.GET("/recordings/:id", h.getRecording)
	api.POST("/recordings/:id/stop", h.stopRecording)
	api.GET("/recordings/:id/playback", h.playbackURL)
	api.POST("/schedules", h.createSchedule)
	api.POST("/schedules/:id/execute", h.executeSchedule)
	api.GET("/settings", h.listSettings)
	api.PUT("/settings", h.putSetting)
}

func (h *Handler) startRecording(c *gin.Context) {
	var req dto.StartRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recording := &entities.Recording{
		ID:        uuid.New(),
		Title:     req.Title,
		SourceURL: req.SourceURL,
		Quality:   req.Quality,
		Format:    req.Format,
		State:     constant.RecordingStatePending,
		CreatedAt: time.Now(),
	}
	if err := h.repo.CreateRecording(c.Request.Context(), recording); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.recorder.Start(c.Request.Context(), recording); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrAlreadyActive) || errors.Is(err, service.ErrAlreadyTerminal) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, recording)
}

func (h *Handler) activeRecordings(c *gin.Context) {
	c.JSON(http.StatusOK, h.recorder.Active())
}

func (h *Handler) getRecording(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recording id"})
		return
	}

	recording, err := h.repo.FindRecordingById(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recording not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, recording)
}

func (h *Handler) stopRecording(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recording id"})
		return
	}

	if err := h.recorder.Stop(c.Request.Context(), id); err != nil {
		if errors.Is(err, service.ErrNotActive) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *Handler) playbackURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recording id"})
		return
	}

	recording, err := h.repo.FindRecordingById(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recording not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if recording.StorageKey == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "recording has not been uploaded"})
		return
	}

	presigned, err := h.uploader.PresignedURL(c.Request.Context(), *recording.StorageKey, h.presignedTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.PlaybackResponse{
		URL:       presigned,
		ExpiresAt: time.Now().Add(h.presignedTTL),
	})
}

func (h *Handler) createSchedule(c *gin.Context) {
	var req dto.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MatchId == nil && req.RecordingId == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schedule needs a match_id or recording_id"})
		return
	}

	now := time.Now()
	schedule := &entities.Schedule{
		ID:          uuid.New(),
		MatchId:     req.MatchId,
		RecordingId: req.RecordingId,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		State:       constant.ScheduleStatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.repo.CreateSchedule(c.Request.Context(), schedule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, schedule)
}

func (h *Handler) executeSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}

	if err := h.dispatcher.ExecuteNow(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		case errors.Is(err, service.ErrScheduleNotPending):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "executed"})
}

func (h *Handler) listSettings(c *gin.Context) {
	settings, err := h.repo.ListSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) putSetting(c *gin.Context) {
	var req dto.SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.repo.UpsertSetting(c.Request.Context(), req.Key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}
