package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	log "github.com/sirupsen/logrus"

	"smartmess-backend/internal/mealtime"
	"smartmess-backend/internal/metrics"
	"smartmess-backend/internal/model"
	"smartmess-backend/internal/prediction"
	"smartmess-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Predictor supplies the best upcoming slot for an announcement.
type Predictor interface {
	Predict(ctx context.Context, req prediction.Request) (*prediction.Result, error)
}

// Job asks the pool to announce that a meal has opened at a mess.
type Job struct {
	MessID string
	Meal   mealtime.Meal
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size      int
	jobs      chan Job
	store     store.Store
	predictor Predictor
	webpush   *webpush.Options
	sender    NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s store.Store, predictor Predictor, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:      size,
		jobs:      make(chan Job, size), // Buffered channel
		store:     s,
		predictor: predictor,
		webpush:   webpushOptions,
		sender:    &WebPushSender{}, // Use the real sender by default
	}
}

// Serve runs the workers until ctx is cancelled.
func (wp *WorkerPool) Serve(ctx context.Context) error {
	wp.Start(ctx)
	<-ctx.Done()
	return ctx.Err()
}

func (wp *WorkerPool) String() string {
	return "notification-pool"
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			log.Printf("Worker %d announcing %s at %s", id, job.Meal, job.MessID)
			wp.announce(ctx, job)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a job for the workers. It gives up and returns false
// when ctx ends before a worker has room for the job.
func (wp *WorkerPool) Dispatch(ctx context.Context, job Job) bool {
	select {
	case wp.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

// announce notifies every subscriber of a mess that a meal has opened.
func (wp *WorkerPool) announce(ctx context.Context, job Job) {
	subscriptions, err := wp.store.SubscriptionsForMess(ctx, job.MessID)
	if err != nil {
		log.Printf("Error fetching subscriptions for mess %s: %v", job.MessID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d notifications for mess %s", len(subscriptions), job.MessID)

	messLabel := job.MessID
	if mess, err := wp.store.GetMess(ctx, job.MessID); err != nil {
		log.Printf("Error fetching mess %s: %v", job.MessID, err)
	} else if mess.Name != "" {
		messLabel = mess.Name
	}

	message := fmt.Sprintf("%s is open at %s.", job.Meal.Title(), messLabel)
	if wp.predictor != nil {
		res, err := wp.predictor.Predict(ctx, prediction.Request{MessID: job.MessID, Meal: job.Meal})
		if err != nil {
			log.Printf("Error predicting crowd for %s: %v", job.MessID, err)
		} else if res.BestSlot != nil {
			message = fmt.Sprintf("%s Best time: %s (%s)", message, res.BestSlot.TimeSlot, res.BestSlot.Recommendation)
		}
	}

	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		metrics.NotificationsSent.WithLabelValues("expired").Inc()
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
		return
	}
	metrics.NotificationsSent.WithLabelValues("sent").Inc()
}
