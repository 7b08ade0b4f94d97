package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/prediction"
)

const defaultMessID = "alder"

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

type predictRequest struct {
	MessID   string `json:"messId" binding:"max=64"`
	MealType string `json:"mealType" binding:"omitempty,mealtype"`
	Capacity int    `json:"capacity" binding:"omitempty,min=1,max=100000"`
	DevMode  bool   `json:"devMode"`
}

// Predict returns the crowd forecast for the upcoming slots of a meal.
func (h *Handler) Predict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	if req.MessID == "" {
		req.MessID = defaultMessID
	}
	meal, _ := mealtime.ParseMeal(req.MealType)

	res, err := h.predictor.Predict(c.Request.Context(), prediction.Request{
		MessID:   req.MessID,
		Meal:     meal,
		Capacity: req.Capacity,
		DevMode:  req.DevMode,
	})
	if err != nil {
		log.WithError(err).WithField("messId", req.MessID).Error("prediction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

type trainRequest struct {
	MessID   string `json:"messId" binding:"required,max=64"`
	MealType string `json:"mealType" binding:"omitempty,mealtype"`
}

// Train starts background training for a mess, optionally for one meal.
func (h *Handler) Train(c *gin.Context) {
	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	if !h.messExists(c, req.MessID) {
		return
	}
	meal, _ := mealtime.ParseMeal(req.MealType)

	if !h.trainer.TrainAsync(req.MessID, meal) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "already_training",
			"messId":   req.MessID,
			"mealType": string(meal),
			"message":  "Training is already in progress",
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":   "training_started",
		"messId":   req.MessID,
		"mealType": string(meal),
		"message":  "Training started in the background",
	})
}
