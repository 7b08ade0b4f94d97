package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/metrics"
	"smartmess-backend/internal/model"
	"smartmess-backend/internal/store"
)

// GetAttendance lists attendance for a mess on one day, optionally one meal.
func (h *Handler) GetAttendance(c *gin.Context) {
	messID := c.Query("messId")
	if messID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messId is required"})
		return
	}
	meal, err := mealtime.ParseMeal(c.Query("meal"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date := c.DefaultQuery("date", mealtime.Date(h.localNow()))

	rows, err := h.store.ListAttendance(c.Request.Context(), messID, date, string(meal))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messId":     messID,
		"date":       date,
		"mealType":   string(meal),
		"attendance": rows,
		"count":      len(rows),
	})
}

// messExists writes a 404 and returns false when the mess is unknown.
func (h *Handler) messExists(c *gin.Context, messID string) bool {
	if _, err := h.store.GetMess(c.Request.Context(), messID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "mess not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return false
	}
	return true
}

type markAttendanceRequest struct {
	MessID       string `json:"messId" binding:"required,max=64"`
	EnrollmentID string `json:"enrollmentId" binding:"required,max=64"`
	StudentName  string `json:"studentName" binding:"max=128"`
	Method       string `json:"method" binding:"omitempty,oneof=qr manual"`
	QRToken      string `json:"qrToken"`
	MealType     string `json:"mealType" binding:"omitempty,mealtype"`
	DevMode      bool   `json:"devMode"`
}

// MarkAttendance records a student eating the meal currently being served.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	if req.Method == "" {
		req.Method = model.MethodManual
	}
	if !h.messExists(c, req.MessID) {
		return
	}

	now := h.localNow()
	meal, ok := h.resolveMeal(now, req.MealType, req.DevMode)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Attendance can only be marked during meal hours"})
		return
	}
	date := mealtime.Date(now)
	ctx := c.Request.Context()

	if req.Method == model.MethodQR {
		if req.QRToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "qrToken is required for qr attendance"})
			return
		}
		qr, err := h.store.GetQRCode(ctx, req.QRToken)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if qr == nil || qr.MessID != req.MessID || qr.Date != date || qr.Meal != string(meal) {
			c.JSON(http.StatusForbidden, gin.H{"error": "QR code is not valid for this mess and meal"})
			return
		}
	}

	record := model.Attendance{
		MessID:       req.MessID,
		Date:         date,
		Meal:         string(meal),
		EnrollmentID: req.EnrollmentID,
		StudentName:  req.StudentName,
		Method:       req.Method,
		MarkedAt:     now,
	}
	if err := h.store.MarkAttendance(ctx, &record); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "Attendance already marked for this meal"})
			return
		}
		log.WithError(err).WithField("messId", req.MessID).Error("failed to mark attendance")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	metrics.AttendanceMarked.WithLabelValues(string(meal), req.Method).Inc()
	h.invalidate()
	c.JSON(http.StatusCreated, record)
}

type createQRCodeRequest struct {
	MessID   string `json:"messId" binding:"required,max=64"`
	MealType string `json:"mealType" binding:"omitempty,mealtype"`
	DevMode  bool   `json:"devMode"`
}

// CreateQRCode issues an attendance token for the meal being served.
func (h *Handler) CreateQRCode(c *gin.Context) {
	var req createQRCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}

	ctx := c.Request.Context()
	if !h.messExists(c, req.MessID) {
		return
	}

	now := h.localNow()
	meal, ok := h.resolveMeal(now, req.MealType, req.DevMode)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "QR codes can only be issued during meal hours"})
		return
	}

	qr := model.QRCode{
		Token:     uuid.New().String(),
		MessID:    req.MessID,
		Date:      mealtime.Date(now),
		Meal:      string(meal),
		CreatedAt: now,
	}
	if err := h.store.CreateQRCode(ctx, &qr); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, qr)
}
