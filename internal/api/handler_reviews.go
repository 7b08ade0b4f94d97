package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/metrics"
	"smartmess-backend/internal/model"
)

// GetReviews lists the reviews of one meal on one day.
func (h *Handler) GetReviews(c *gin.Context) {
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

	now := h.localNow()
	date := c.DefaultQuery("date", mealtime.Date(now))
	if meal == mealtime.None {
		meal = mealtime.Current(now)
	}
	if meal == mealtime.None {
		c.JSON(http.StatusOK, gin.H{
			"messId":        messID,
			"date":          date,
			"reviews":       []model.Review{},
			"count":         0,
			"averageRating": 0,
			"warning":       "No meal is being served right now. Pass a meal to see its reviews.",
		})
		return
	}

	reviews, err := h.store.ListReviews(c.Request.Context(), messID, date, string(meal))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var sum int
	for _, r := range reviews {
		sum += r.Rating
	}
	avg := 0.0
	if len(reviews) > 0 {
		avg = round2(float64(sum) / float64(len(reviews)))
	}

	c.JSON(http.StatusOK, gin.H{
		"messId":        messID,
		"date":          date,
		"mealType":      string(meal),
		"reviews":       reviews,
		"count":         len(reviews),
		"averageRating": avg,
	})
}

type submitReviewRequest struct {
	MessID       string `json:"messId" binding:"required,max=64"`
	Rating       int    `json:"rating" binding:"required,min=1,max=5"`
	Comment      string `json:"comment" binding:"max=1024"`
	EnrollmentID string `json:"enrollmentId" binding:"max=64"`
	MealType     string `json:"mealType" binding:"omitempty,mealtype"`
	DevMode      bool   `json:"devMode"`
}

// SubmitReview stores a rating for the meal currently being served.
func (h *Handler) SubmitReview(c *gin.Context) {
	var req submitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	if !h.messExists(c, req.MessID) {
		return
	}

	now := h.localNow()
	meal, ok := h.resolveMeal(now, req.MealType, req.DevMode)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Reviews can only be submitted during meal hours"})
		return
	}

	review := model.Review{
		ID:           uuid.New().String(),
		MessID:       req.MessID,
		Date:         mealtime.Date(now),
		Meal:         string(meal),
		EnrollmentID: req.EnrollmentID,
		Rating:       req.Rating,
		Comment:      req.Comment,
		SubmittedAt:  now,
	}
	if err := h.store.CreateReview(c.Request.Context(), &review); err != nil {
		log.WithError(err).WithField("messId", req.MessID).Error("failed to store review")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	metrics.ReviewsSubmitted.WithLabelValues(string(meal)).Inc()
	h.invalidate()
	c.JSON(http.StatusCreated, review)
}
