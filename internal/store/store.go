package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smartmess-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	GetMess(ctx context.Context, id string) (*model.Mess, error)
	ListMesses(ctx context.Context) ([]model.Mess, error)
	UpsertMess(ctx context.Context, m *model.Mess) error

	MarkAttendance(ctx context.Context, a *model.Attendance) error
	ListAttendance(ctx context.Context, messID, date, meal string) ([]model.Attendance, error)
	CountAttendance(ctx context.Context, messID, date, meal string) (int64, error)
	AttendanceSince(ctx context.Context, messID, meal, fromDate string) ([]model.Attendance, error)
	DailyMealCounts(ctx context.Context, messID, fromDate, toDate string) ([]MealCount, error)
	ArchiveAttendanceBefore(ctx context.Context, cutoffDate string, now time.Time) (int64, error)

	CreateReview(ctx context.Context, r *model.Review) error
	ListReviews(ctx context.Context, messID, date, meal string) ([]model.Review, error)
	RatingSummaries(ctx context.Context, messID, fromDate, toDate string) ([]RatingSummary, error)

	GetModelMetadata(ctx context.Context, key string) (*model.ModelMetadata, error)
	SaveModelMetadata(ctx context.Context, m *model.ModelMetadata) error
	ListModelMetadata(ctx context.Context) ([]model.ModelMetadata, error)

	CreateQRCode(ctx context.Context, q *model.QRCode) error
	GetQRCode(ctx context.Context, token string) (*model.QRCode, error)
	DeleteQRCodesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	PutSubscription(ctx context.Context, sub *model.PushSubscription, messIDs []string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForMess(ctx context.Context, messID string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- Messes ---

func (s *gormStore) GetMess(ctx context.Context, id string) (*model.Mess, error) {
	var m model.Mess
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *gormStore) ListMesses(ctx context.Context) ([]model.Mess, error) {
	var messes []model.Mess
	if err := s.db.WithContext(ctx).Order("id").Find(&messes).Error; err != nil {
		return nil, fmt.Errorf("failed to list messes: %w", err)
	}
	return messes, nil
}

func (s *gormStore) UpsertMess(ctx context.Context, m *model.Mess) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "capacity", "manager_name", "manager_email", "updated_at"}),
	}).Create(m).Error
}

// --- Attendance ---

// MarkAttendance inserts a row unless one already exists for the same
// mess, date, meal and enrollment id.
func (s *gormStore) MarkAttendance(ctx context.Context, a *model.Attendance) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.Attendance{}).
			Where("mess_id = ? AND date = ? AND meal = ? AND enrollment_id = ?", a.MessID, a.Date, a.Meal, a.EnrollmentID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check attendance: %w", err)
		}
		if existing > 0 {
			return ErrDuplicate
		}
		// A concurrent request can insert the same key after the count above;
		// the unique index then turns this insert into a no-op.
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(a)
		if err := res.Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to mark attendance: %w", err)
		}
		if res.RowsAffected == 0 {
			return ErrDuplicate
		}
		return nil
	})
}

func (s *gormStore) ListAttendance(ctx context.Context, messID, date, meal string) ([]model.Attendance, error) {
	var rows []model.Attendance
	q := s.db.WithContext(ctx).Where("mess_id = ? AND date = ?", messID, date)
	if meal != "" {
		q = q.Where("meal = ?", meal)
	}
	if err := q.Order("marked_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	return rows, nil
}

func (s *gormStore) CountAttendance(ctx context.Context, messID, date, meal string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Attendance{}).
		Where("mess_id = ? AND date = ? AND meal = ?", messID, date, meal).
		Count(&n).Error
	return n, err
}

// AttendanceSince returns rows dated fromDate or later. An empty meal
// matches every meal.
func (s *gormStore) AttendanceSince(ctx context.Context, messID, meal, fromDate string) ([]model.Attendance, error) {
	var rows []model.Attendance
	q := s.db.WithContext(ctx).Where("mess_id = ? AND date >= ?", messID, fromDate)
	if meal != "" {
		q = q.Where("meal = ?", meal)
	}
	if err := q.Order("marked_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load attendance since %s: %w", fromDate, err)
	}
	return rows, nil
}

func (s *gormStore) DailyMealCounts(ctx context.Context, messID, fromDate, toDate string) ([]MealCount, error) {
	var counts []MealCount
	err := s.db.WithContext(ctx).Model(&model.Attendance{}).
		Select("date, meal, COUNT(*) AS count").
		Where("mess_id = ? AND date >= ? AND date <= ?", messID, fromDate, toDate).
		Group("date, meal").
		Order("date").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count attendance: %w", err)
	}
	return counts, nil
}

// ArchiveAttendanceBefore moves every row dated before cutoffDate into
// the archive table and returns how many rows moved.
func (s *gormStore) ArchiveAttendanceBefore(ctx context.Context, cutoffDate string, now time.Time) (int64, error) {
	var moved int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.Attendance
		if err := tx.Where("date < ?", cutoffDate).Find(&rows).Error; err != nil {
			return fmt.Errorf("failed to find old attendance: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		archives := make([]model.AttendanceArchive, len(rows))
		ids := make([]int64, len(rows))
		for i, r := range rows {
			archives[i] = model.AttendanceArchive{
				MessID:       r.MessID,
				Date:         r.Date,
				Meal:         r.Meal,
				EnrollmentID: r.EnrollmentID,
				StudentName:  r.StudentName,
				Method:       r.Method,
				MarkedAt:     r.MarkedAt,
				ArchivedAt:   now,
			}
			ids[i] = r.ID
		}

		log.Printf("Archiving %d attendance rows dated before %s...", len(rows), cutoffDate)
		if err := tx.CreateInBatches(&archives, 200).Error; err != nil {
			return fmt.Errorf("failed to archive attendance: %w", err)
		}
		res := tx.Delete(&model.Attendance{}, ids)
		if res.Error != nil {
			return fmt.Errorf("failed to delete archived attendance: %w", res.Error)
		}
		moved = res.RowsAffected
		return nil
	})
	return moved, err
}

// --- Reviews ---

func (s *gormStore) CreateReview(ctx context.Context, r *model.Review) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}

func (s *gormStore) ListReviews(ctx context.Context, messID, date, meal string) ([]model.Review, error) {
	var reviews []model.Review
	err := s.db.WithContext(ctx).
		Where("mess_id = ? AND date = ? AND meal = ?", messID, date, meal).
		Order("submitted_at DESC").
		Find(&reviews).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return reviews, nil
}

func (s *gormStore) RatingSummaries(ctx context.Context, messID, fromDate, toDate string) ([]RatingSummary, error) {
	var out []RatingSummary
	err := s.db.WithContext(ctx).Model(&model.Review{}).
		Select("meal, COUNT(*) AS count, AVG(rating) AS average").
		Where("mess_id = ? AND date >= ? AND date <= ?", messID, fromDate, toDate).
		Group("meal").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarise ratings: %w", err)
	}
	return out, nil
}

// --- Model metadata ---

func (s *gormStore) GetModelMetadata(ctx context.Context, key string) (*model.ModelMetadata, error) {
	var m model.ModelMetadata
	if err := s.db.WithContext(ctx).First(&m, "model_key = ?", key).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *gormStore) SaveModelMetadata(ctx context.Context, m *model.ModelMetadata) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model_key"}},
		UpdateAll: true,
	}).Create(m).Error
}

func (s *gormStore) ListModelMetadata(ctx context.Context) ([]model.ModelMetadata, error) {
	var rows []model.ModelMetadata
	if err := s.db.WithContext(ctx).Order("model_key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list model metadata: %w", err)
	}
	return rows, nil
}

// --- QR codes ---

func (s *gormStore) CreateQRCode(ctx context.Context, q *model.QRCode) error {
	return s.db.WithContext(ctx).Create(q).Error
}

func (s *gormStore) GetQRCode(ctx context.Context, token string) (*model.QRCode, error) {
	var q model.QRCode
	if err := s.db.WithContext(ctx).First(&q, "token = ?", token).Error; err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (s *gormStore) DeleteQRCodesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.QRCode{})
	return res.RowsAffected, res.Error
}

// --- Push subscriptions ---

// PutSubscription creates or replaces a subscription together with the
// set of messes it follows.
func (s *gormStore) PutSubscription(ctx context.Context, sub *model.PushSubscription, messIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Omit("Messes").Create(sub).Error; err != nil {
			return err
		}

		var messes []*model.Mess
		if len(messIDs) > 0 {
			if err := tx.Where("id IN ?", messIDs).Find(&messes).Error; err != nil {
				return err
			}
		}

		return tx.Model(sub).Association("Messes").Replace(messes)
	})
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Preload("Messes").First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Select("Messes").Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

func (s *gormStore) SubscriptionsForMess(ctx context.Context, messID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN subscription_mess_mapping smm ON smm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("smm.mess_id = ?", messID).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for mess %s: %w", messID, err)
	}
	return subs, nil
}
