package internal

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"smartmess-backend/config"
	"smartmess-backend/internal/api"
	"smartmess-backend/internal/artifact"
	"smartmess-backend/internal/db"
	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/model"
	"smartmess-backend/internal/prediction"
	"smartmess-backend/internal/retention"
	"smartmess-backend/internal/store"
	"smartmess-backend/internal/training"
)

// TestMealLifecycle marks attendance through the API, trains a model from it
// and checks that predictions switch from the fallback curve to the model.
func TestMealLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// --- Test Setup ---
	testDB, err := gorm.Open(sqlite.Open("file:lifecycle?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	defer sqlDB.Close()
	require.NoError(t, db.Migrate(testDB))

	cfg := config.Default()
	cfg.Server.GinMode = gin.TestMode
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Training.Epochs = 10
	cfg.Messes = []config.MessSeed{{ID: "alder", Name: "Alder Mess", Capacity: 120}}
	require.NoError(t, db.Seed(testDB, cfg.Messes))

	models, err := artifact.Open(config.ModelsConfig{InMemory: true})
	require.NoError(t, err)
	defer models.Close()

	appStore := store.NewGormStore(testDB)
	predictor := prediction.NewService(appStore, models, cfg.Prediction, time.UTC)
	trainer := training.NewTrainer(appStore, models, predictor, cfg.Training, time.UTC)
	handler := api.NewHandler(api.Deps{
		Store:     appStore,
		Predictor: predictor,
		Trainer:   trainer,
		Location:  time.UTC,
	})
	router := api.NewRouter(cfg.Server, handler)

	var now time.Time
	clock := func() time.Time { return now }
	predictor.SetClock(clock)
	trainer.SetClock(clock)
	handler.SetClock(clock)

	post := func(path string, body any) *httptest.ResponseRecorder {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// --- Step 1: a week of lunches marked through the API ---
	friday := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	for day := 7; day >= 1; day-- {
		lunch := friday.AddDate(0, 0, -day).Add(12 * time.Hour)
		for i := 0; i < 12; i++ {
			now = lunch.Add(time.Duration(i*9) * time.Minute)
			w := post("/attendance", map[string]any{
				"messId":       "alder",
				"enrollmentId": fmt.Sprintf("E%03d", i),
			})
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		}
	}

	// --- Step 2: before training, predictions use the fallback curve ---
	now = friday.Add(12*time.Hour + 10*time.Minute)
	w := post("/predict", map[string]any{"messId": "alder"})
	require.Equal(t, http.StatusOK, w.Code)
	var before prediction.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &before))
	assert.Equal(t, prediction.SourceFallback, before.Source)
	assert.True(t, before.Fallback)
	assert.Equal(t, 120, before.Capacity)

	// --- Step 3: train the lunch model ---
	w = post("/train", map[string]any{"messId": "alder", "mealType": "lunch"})
	require.Equal(t, http.StatusAccepted, w.Code)
	trainer.Wait()

	meta, err := appStore.GetModelMetadata(t.Context(), "alder:lunch")
	require.NoError(t, err)
	assert.Equal(t, model.StatusTrained, meta.Status)
	assert.Equal(t, 84, meta.RecordsUsed)

	// --- Step 4: predictions now come from the model ---
	w = post("/predict", map[string]any{"messId": "alder"})
	require.Equal(t, http.StatusOK, w.Code)
	var after prediction.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	assert.Equal(t, prediction.SourceModel, after.Source)
	assert.Equal(t, "alder:lunch", after.ModelKey)
	assert.Equal(t, string(mealtime.Lunch), after.MealType)
	require.NotEmpty(t, after.Predictions)
	assert.Equal(t, "12:15 PM", after.Predictions[0].TimeSlot)
	for _, slot := range after.Predictions {
		assert.LessOrEqual(t, slot.PredictedCrowd, 120)
	}
	require.NotNil(t, after.BestSlot)

	// --- Step 5: retention archives the old week ---
	sweeper := retention.NewSweeper(appStore, config.RetentionConfig{QRCodeDays: 1, AttendanceArchiveDays: 3}, time.UTC)
	sweeper.SetClock(clock)
	report := sweeper.SweepOnce(t.Context())
	assert.EqualValues(t, 48, report.AttendanceArchived)

	rows, err := appStore.AttendanceSince(t.Context(), "alder", "", "2025-03-01")
	require.NoError(t, err)
	assert.Len(t, rows, 36)
}
