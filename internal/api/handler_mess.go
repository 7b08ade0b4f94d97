package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/model"
	"smartmess-backend/internal/store"
)

const maxAnalyticsDays = 90

// GetManagerInfo returns the contact details of a mess.
func (h *Handler) GetManagerInfo(c *gin.Context) {
	messID := c.Query("messId")
	if messID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messId is required"})
		return
	}

	mess, err := h.store.GetMess(c.Request.Context(), messID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "mess not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messId":       mess.ID,
		"messName":     mess.Name,
		"managerName":  mess.ManagerName,
		"managerEmail": mess.ManagerEmail,
		"capacity":     mess.Capacity,
	})
}

type peakSlot struct {
	TimeSlot string `json:"time_slot"`
	Count    int    `json:"count"`
}

type dailyTotal struct {
	Date  string           `json:"date"`
	Total int64            `json:"total"`
	Meals map[string]int64 `json:"meals"`
}

type mealRating struct {
	Count   int64   `json:"count"`
	Average float64 `json:"average"`
}

// GetAnalytics summarises attendance and ratings for a mess.
func (h *Handler) GetAnalytics(c *gin.Context) {
	messID := c.Query("messId")
	if messID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messId is required"})
		return
	}

	now := h.localNow()
	day := now
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation(mealtime.DateLayout, raw, h.loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	days := 7
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAnalyticsDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 90"})
			return
		}
		days = n
	}

	ctx := c.Request.Context()
	date := mealtime.Date(day)
	fromDate := mealtime.Date(day.AddDate(0, 0, -(days - 1)))

	counts, err := h.store.DailyMealCounts(ctx, messID, fromDate, date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ratings, err := h.store.RatingSummaries(ctx, messID, fromDate, date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.store.ListAttendance(ctx, messID, date, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	mealCounts := make(map[string]int64, len(mealtime.All))
	for _, m := range mealtime.All {
		mealCounts[string(m)] = 0
	}
	byDate := make(map[string]*dailyTotal)
	for _, mc := range counts {
		if mc.Date == date {
			mealCounts[mc.Meal] = mc.Count
		}
		dt, ok := byDate[mc.Date]
		if !ok {
			dt = &dailyTotal{Date: mc.Date, Meals: map[string]int64{}}
			byDate[mc.Date] = dt
		}
		dt.Meals[mc.Meal] += mc.Count
		dt.Total += mc.Count
	}

	trend := make([]dailyTotal, 0, days)
	for i := days - 1; i >= 0; i-- {
		d := mealtime.Date(day.AddDate(0, 0, -i))
		if dt, ok := byDate[d]; ok {
			trend = append(trend, *dt)
		} else {
			trend = append(trend, dailyTotal{Date: d, Meals: map[string]int64{}})
		}
	}

	avgRatings := make(map[string]mealRating, len(ratings))
	for _, r := range ratings {
		avgRatings[r.Meal] = mealRating{Count: r.Count, Average: round2(r.Average)}
	}

	c.JSON(http.StatusOK, gin.H{
		"messId":      messID,
		"date":        date,
		"days":        days,
		"mealCounts":  mealCounts,
		"dailyTotals": trend,
		"ratings":     avgRatings,
		"peakSlots":   peakSlots(rows, h.loc),
		"totalToday":  sumCounts(mealCounts),
		"generatedAt": now,
	})
}

// peakSlots finds the busiest 15-minute bucket of each meal. Ties go to the
// earliest slot.
func peakSlots(rows []model.Attendance, loc *time.Location) map[string]peakSlot {
	buckets := make(map[string]map[time.Time]int)
	for _, r := range rows {
		slot := mealtime.FloorToSlot(r.MarkedAt.In(loc))
		if buckets[r.Meal] == nil {
			buckets[r.Meal] = make(map[time.Time]int)
		}
		buckets[r.Meal][slot]++
	}

	peaks := make(map[string]peakSlot, len(buckets))
	for meal, slots := range buckets {
		keys := make([]time.Time, 0, len(slots))
		for t := range slots {
			keys = append(keys, t)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

		var best time.Time
		bestCount := -1
		for _, t := range keys {
			if slots[t] > bestCount {
				best, bestCount = t, slots[t]
			}
		}
		peaks[meal] = peakSlot{TimeSlot: best.Format("03:04 PM"), Count: bestCount}
	}
	return peaks
}

func sumCounts(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
