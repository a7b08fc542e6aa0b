package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"slotline/internal/config"
	"slotline/internal/database"
	"slotline/internal/domain"
	"slotline/internal/metrics"
	"slotline/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// OutboundWorker delivers queued outbound SMS. Tasks are persisted in the
// outbound_queue table first, so nothing is lost on restart; the redis
// list and the in-memory channel are only wake-up hints on top of the
// durable row.
type OutboundWorker struct {
	db           *database.DB
	sender       domain.MessageSender
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan int64
	queueKey     string
	deadKey      string
	pollInterval time.Duration
	batchSize    int
	quietStart   int
	quietEnd     int
	logger       *zerolog.Logger
}

func NewOutboundWorker(db *database.DB, sender domain.MessageSender, redisClient *redis.Client, cfg config.OutboundConfig, transport config.TransportConfig, logger *zerolog.Logger) *OutboundWorker {
	retry := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}

	return &OutboundWorker{
		db:           db,
		sender:       sender,
		redis:        redisClient,
		retryPolicy:  retry,
		queue:        make(chan int64, 128),
		queueKey:     "outbound:queue",
		deadKey:      "outbound:deadletter",
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		quietStart:   transport.QuietHoursStart,
		quietEnd:     transport.QuietHoursEnd,
		logger:       logger,
	}
}

// Enqueue persists the message task and schedules it for delivery.
func (w *OutboundWorker) Enqueue(ctx context.Context, messageID, contactID, phone, body string, priority bool) error {
	task := &models.OutboundTask{
		MessageID: messageID,
		ContactID: contactID,
		Phone:     phone,
		Body:      body,
		Priority:  priority,
	}
	if err := w.db.EnqueueOutbound(ctx, task); err != nil {
		return err
	}

	if w.redis != nil {
		err := w.redis.LPush(ctx, w.queueKey, task.ID).Err()
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, using memory queue")
	}

	select {
	case w.queue <- task.ID:
	default:
		// Полная очередь не страшна: задача уже в базе, опрос её подберет.
	}
	return nil
}

// Start runs the delivery loop until the context is cancelled.
func (w *OutboundWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Outbound worker started")
	defer w.logger.Info().Msg("Outbound worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if id, ok := w.tryLocalQueue(); ok {
			w.processByID(ctx, id)
			continue
		}
		if id, ok := w.tryRedis(ctx); ok {
			w.processByID(ctx, id)
			continue
		}

		tasks, err := w.db.DueOutboundTasks(ctx, time.Now().UTC(), w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to fetch due outbound tasks")
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}
		for _, task := range tasks {
			w.processTask(ctx, task)
		}
	}
}

func (w *OutboundWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *OutboundWorker) tryLocalQueue() (int64, bool) {
	select {
	case id := <-w.queue:
		return id, true
	default:
		return 0, false
	}
}

func (w *OutboundWorker) tryRedis(ctx context.Context) (int64, bool) {
	if w.redis == nil {
		return 0, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.queueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Redis BRPOP error")
		}
		return 0, false
	}
	if len(res) != 2 {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal([]byte(res[1]), &id); err != nil {
		w.logger.Error().Err(err).Str("raw", res[1]).Msg("Bad task id in redis queue")
		return 0, false
	}
	return id, true
}

func (w *OutboundWorker) processByID(ctx context.Context, id int64) {
	task, err := w.db.GetOutboundTask(ctx, id)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", id).Msg("Failed to load outbound task")
		return
	}
	if task.Status != database.OutboundPending || task.NotBefore.After(time.Now().UTC()) {
		return
	}
	w.processTask(ctx, task)
}

func (w *OutboundWorker) processTask(ctx context.Context, task *models.OutboundTask) {
	if !task.Priority {
		if deferred, until := w.quietDeferral(w.contactNow(ctx, task.ContactID)); deferred {
			if err := w.db.DeferOutbound(ctx, task.ID, until); err != nil {
				w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to defer outbound task")
			}
			metrics.IncOutbound("deferred")
			return
		}
	}

	sid, err := w.sender.Send(ctx, task.Phone, task.Body)
	if err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.db.UpdateMessageSID(ctx, task.MessageID, sid, "sent"); err != nil {
		w.logger.Error().Err(err).Str("message_id", task.MessageID).Msg("Failed to record provider sid")
	}
	if err := w.db.MarkOutboundDone(ctx, task.ID); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark outbound task done")
	}
	metrics.IncOutbound("sent")
}

func (w *OutboundWorker) retryOrFail(ctx context.Context, task *models.OutboundTask, cause error) {
	attempt := task.Attempts + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.logger.Error().Err(cause).
			Int64("task_id", task.ID).
			Str("contact_id", task.ContactID).
			Msg("Outbound task exhausted retries")
		if err := w.db.MarkOutboundDead(ctx, task.ID); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark outbound task dead")
		}
		if err := w.db.UpdateMessageSID(ctx, task.MessageID, "", "failed"); err != nil {
			w.logger.Error().Err(err).Str("message_id", task.MessageID).Msg("Failed to mark message failed")
		}
		w.pushDeadLetter(ctx, task)
		metrics.IncOutbound("dead")
		return
	}

	delay := w.retryPolicy.NextDelay(attempt)
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Int("attempt", attempt).
		Dur("retry_in", delay).
		Msg("Outbound send failed, will retry")
	if err := w.db.RescheduleOutbound(ctx, task.ID, time.Now().UTC().Add(delay)); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to reschedule outbound task")
	}
	metrics.IncOutbound("retried")
}

func (w *OutboundWorker) pushDeadLetter(ctx context.Context, task *models.OutboundTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	if err := w.redis.LPush(ctx, w.deadKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter push failed")
	}
}

// contactNow returns the current time on the contact's clock. Quiet hours
// follow the phone on the receiving end, not the server timezone.
func (w *OutboundWorker) contactNow(ctx context.Context, contactID string) time.Time {
	now := time.Now().UTC()
	contact, err := w.db.GetContact(ctx, contactID)
	if err != nil {
		w.logger.Warn().Err(err).Str("contact_id", contactID).Msg("Failed to load contact for quiet hours")
		return now
	}
	return now.In(contact.Location())
}

// quietDeferral reports whether now falls inside the quiet-hours window
// and, if so, when sending may resume. The window may wrap midnight
// (e.g. 21 to 8); equal bounds disable it.
func (w *OutboundWorker) quietDeferral(now time.Time) (bool, time.Time) {
	if w.quietStart == w.quietEnd {
		return false, time.Time{}
	}
	hour := now.Hour()
	var quiet bool
	if w.quietStart < w.quietEnd {
		quiet = hour >= w.quietStart && hour < w.quietEnd
	} else {
		quiet = hour >= w.quietStart || hour < w.quietEnd
	}
	if !quiet {
		return false, time.Time{}
	}

	resume := time.Date(now.Year(), now.Month(), now.Day(), w.quietEnd%24, 0, 0, 0, now.Location())
	if !resume.After(now) {
		resume = resume.AddDate(0, 0, 1)
	}
	return true, resume
}

var _ domain.OutboundQueue = (*OutboundWorker)(nil)
