package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go-crmsync/internal/apperrors"
	common_models "go-crmsync/internal/common/models"
	"go-crmsync/internal/config"
	"go-crmsync/internal/events"
	"go-crmsync/internal/remote"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventApplier is the drain target for closed batches. The sync
// orchestrator implements it.
type EventApplier interface {
	ApplyChangeEvent(ctx context.Context, event *ChangeEvent) error
}

type WebhookService interface {
	// HandleInbound verifies, parses, filters and enqueues one webhook
	// delivery. The returned status is either received or filtered.
	HandleInbound(ctx context.Context, signature string, body []byte) (*InboundResult, error)

	// RegisterSubscriptions tells the remote CRM to deliver change
	// notifications for every configured module.
	RegisterSubscriptions(ctx context.Context) error

	// Flush closes all open batches and waits for in-flight drains.
	Flush(ctx context.Context) error

	// EvictExpired drops events past the retention window.
	EvictExpired(ctx context.Context) (int64, error)

	Metrics() IngestMetrics

	ListEvents(ctx context.Context, module string, status EventStatus, limit int64) ([]ChangeEvent, error)
	ListBatches(ctx context.Context, module string, limit int64) ([]EventBatch, error)

	CreateFilter(ctx context.Context, filter *EventFilter) error
	ListFilters(ctx context.Context) ([]EventFilter, error)
	UpdateFilter(ctx context.Context, id string, updates map[string]interface{}) error
	DeleteFilter(ctx context.Context, id string) error
}

type WebhookServiceImpl struct {
	Config     *config.Config
	Repo       WebhookRepository
	Applier    EventApplier
	Remote     remote.Client
	Dispatcher *events.Dispatcher
	Logger     *zap.Logger

	mu      sync.Mutex
	batches map[string]*openBatch // keyed by module

	received  atomic.Int64
	filtered  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64

	latencyMu  sync.Mutex
	latencySum float64
	latencyN   int64

	drains sync.WaitGroup

	// sleep is swapped out in tests to observe backoff delays
	sleep func(time.Duration)
}

// openBatch is the mutable, not-yet-closed half of an EventBatch. Once
// closed it leaves the map and only the persisted EventBatch remains.
type openBatch struct {
	batch  *EventBatch
	events []*ChangeEvent
	timer  *time.Timer
}

func NewWebhookService(cfg *config.Config, repo WebhookRepository, applier EventApplier, remoteClient remote.Client, dispatcher *events.Dispatcher, logger *zap.Logger) WebhookService {
	return &WebhookServiceImpl{
		Config:     cfg,
		Repo:       repo,
		Applier:    applier,
		Remote:     remoteClient,
		Dispatcher: dispatcher,
		Logger:     logger,
		batches:    make(map[string]*openBatch),
		sleep:      time.Sleep,
	}
}

func (s *WebhookServiceImpl) HandleInbound(ctx context.Context, signature string, body []byte) (*InboundResult, error) {
	if err := s.verifySignature(signature, body); err != nil {
		return nil, err
	}

	var payload common_models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "malformed webhook payload", err)
	}
	if payload.Module == "" || payload.RecordID == "" || payload.Data == nil {
		return nil, apperrors.New(apperrors.CodeValidation, "webhook payload missing required fields")
	}
	if !payload.Operation.Valid() {
		return nil, apperrors.Newf(apperrors.CodeValidation, "unknown operation %q", payload.Operation)
	}

	event := &ChangeEvent{
		ID:         uuid.NewString(),
		Module:     payload.Module,
		Operation:  string(payload.Operation),
		RecordID:   payload.RecordID,
		Data:       payload.Data,
		ReceivedAt: time.Now(),
		Status:     EventReceived,
	}
	s.received.Add(1)

	keep, err := s.passesFilters(ctx, event)
	if err != nil {
		return nil, err
	}
	if !keep {
		event.Status = EventFiltered
		s.filtered.Add(1)
		if err := s.Repo.CreateEvent(ctx, event); err != nil {
			return nil, err
		}
		return &InboundResult{Status: EventFiltered, EventID: event.ID}, nil
	}

	if err := s.enqueue(ctx, event); err != nil {
		return nil, err
	}
	return &InboundResult{Status: EventReceived, EventID: event.ID}, nil
}

func (s *WebhookServiceImpl) verifySignature(signature string, body []byte) error {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return apperrors.New(apperrors.CodeAuthentication, "webhook signature is not valid hex")
	}

	mac := hmac.New(sha256.New, []byte(s.Config.WebhookSecret))
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return apperrors.New(apperrors.CodeAuthentication, "webhook signature mismatch")
	}
	return nil
}

// passesFilters checks every active filter covering the event. A filter
// whose predicate fails to evaluate is skipped with a warning rather
// than silently dropping deliveries.
func (s *WebhookServiceImpl) passesFilters(ctx context.Context, event *ChangeEvent) (bool, error) {
	filters, err := s.Repo.ListFilters(ctx)
	if err != nil {
		return false, err
	}

	for i := range filters {
		f := &filters[i]
		if !f.AppliesTo(event.Module, event.Operation) {
			continue
		}
		keep, err := evalPredicate(f.Predicate, event)
		if err != nil {
			s.Logger.Warn("filter predicate failed, skipping filter",
				zap.String("filter", f.Name),
				zap.Error(err),
			)
			continue
		}
		if !keep {
			return false, nil
		}
	}
	return true, nil
}

// enqueue appends the event to its module's active batch, opening one
// if needed, and closes the batch once it reaches its size limit.
func (s *WebhookServiceImpl) enqueue(ctx context.Context, event *ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ob, ok := s.batches[event.Module]
	if !ok {
		batch := &EventBatch{
			ID:        uuid.NewString(),
			Module:    event.Module,
			MaxSize:   s.Config.BatchMaxSize,
			CreatedAt: time.Now(),
			Status:    BatchPending,
		}
		if err := s.Repo.CreateBatch(ctx, batch); err != nil {
			return err
		}

		ob = &openBatch{batch: batch}
		batchID := batch.ID
		ob.timer = time.AfterFunc(s.Config.BatchTimeout, func() {
			s.closeBatch(event.Module, batchID)
		})
		s.batches[event.Module] = ob
	}

	event.BatchID = ob.batch.ID
	event.Status = EventReceived
	if err := s.Repo.CreateEvent(ctx, event); err != nil {
		return err
	}

	ob.events = append(ob.events, event)
	ob.batch.EventIDs = append(ob.batch.EventIDs, event.ID)

	if len(ob.events) >= ob.batch.MaxSize {
		s.closeLocked(event.Module, ob)
	}
	return nil
}

// closeBatch is the timer path; it re-checks that the module's active
// batch is still the one the timer was armed for.
func (s *WebhookServiceImpl) closeBatch(module, batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ob, ok := s.batches[module]
	if !ok || ob.batch.ID != batchID {
		return
	}
	s.closeLocked(module, ob)
}

func (s *WebhookServiceImpl) closeLocked(module string, ob *openBatch) {
	ob.timer.Stop()
	delete(s.batches, module)

	ob.batch.Status = BatchProcessing
	s.drains.Add(1)
	go s.drain(ob)
}

// drain processes a closed batch. Events for the same record apply in
// receipt order; distinct records run concurrently. One event's failure
// never blocks the others.
func (s *WebhookServiceImpl) drain(ob *openBatch) {
	defer s.drains.Done()

	ctx := context.Background()
	if err := s.Repo.UpdateBatch(ctx, ob.batch.ID, map[string]interface{}{
		"status":    BatchProcessing,
		"event_ids": ob.batch.EventIDs,
	}); err != nil {
		s.Logger.Error("failed to mark batch processing", zap.String("batch", ob.batch.ID), zap.Error(err))
	}

	byRecord := make(map[string][]*ChangeEvent)
	var order []string
	for _, ev := range ob.events {
		if _, seen := byRecord[ev.RecordID]; !seen {
			order = append(order, ev.RecordID)
		}
		byRecord[ev.RecordID] = append(byRecord[ev.RecordID], ev)
	}

	var wg sync.WaitGroup
	var anyOK, anyFail atomic.Bool
	for _, recordID := range order {
		chain := byRecord[recordID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, ev := range chain {
				if s.processEvent(ctx, ev) {
					anyOK.Store(true)
				} else {
					anyFail.Store(true)
				}
			}
		}()
	}
	wg.Wait()

	status := BatchCompleted
	if anyFail.Load() && !anyOK.Load() {
		status = BatchFailed
	}
	now := time.Now()
	ob.batch.Status = status
	ob.batch.CompletedAt = &now

	if err := s.Repo.UpdateBatch(ctx, ob.batch.ID, map[string]interface{}{
		"status":       status,
		"completed_at": now,
	}); err != nil {
		s.Logger.Error("failed to complete batch", zap.String("batch", ob.batch.ID), zap.Error(err))
	}

	s.Dispatcher.Publish(events.Event{
		Type:   events.BatchCompleted,
		Module: ob.batch.Module,
		Payload: map[string]interface{}{
			"batchId": ob.batch.ID,
			"events":  len(ob.events),
			"status":  string(status),
		},
	})
}

// processEvent applies one event with bounded exponential backoff.
// Returns true when the event ends up processed.
func (s *WebhookServiceImpl) processEvent(ctx context.Context, ev *ChangeEvent) bool {
	ev.Status = EventProcessing
	if err := s.Repo.UpdateEvent(ctx, ev.ID, map[string]interface{}{"status": EventProcessing}); err != nil {
		s.Logger.Error("failed to mark event processing", zap.String("event", ev.ID), zap.Error(err))
	}

	maxRetries := s.Config.EventMaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = s.Applier.ApplyChangeEvent(ctx, ev)
		if lastErr == nil {
			ev.Status = EventProcessed
			ev.RetryCount = attempt - 1
			s.processed.Add(1)
			s.recordLatency(time.Since(ev.ReceivedAt))

			if err := s.Repo.UpdateEvent(ctx, ev.ID, map[string]interface{}{
				"status":      EventProcessed,
				"retry_count": ev.RetryCount,
				"last_error":  "",
			}); err != nil {
				s.Logger.Error("failed to mark event processed", zap.String("event", ev.ID), zap.Error(err))
			}
			s.Dispatcher.Publish(events.Event{
				Type:     events.EventProcessed,
				Module:   ev.Module,
				RecordID: ev.RecordID,
				Payload:  map[string]interface{}{"eventId": ev.ID},
			})
			return true
		}

		ev.RetryCount = attempt
		ev.LastError = lastErr.Error()
		if err := s.Repo.UpdateEvent(ctx, ev.ID, map[string]interface{}{
			"retry_count": ev.RetryCount,
			"last_error":  ev.LastError,
		}); err != nil {
			s.Logger.Error("failed to record event retry", zap.String("event", ev.ID), zap.Error(err))
		}

		if attempt < maxRetries {
			s.sleep(retryDelay(s.Config.EventRetryBase, attempt))
		}
	}

	ev.Status = EventFailed
	s.failed.Add(1)
	if err := s.Repo.UpdateEvent(ctx, ev.ID, map[string]interface{}{"status": EventFailed}); err != nil {
		s.Logger.Error("failed to mark event failed", zap.String("event", ev.ID), zap.Error(err))
	}
	s.Logger.Error("event exhausted retries",
		zap.String("event", ev.ID),
		zap.String("module", ev.Module),
		zap.String("record_id", ev.RecordID),
		zap.Error(lastErr),
	)
	s.Dispatcher.Publish(events.Event{
		Type:     events.EventFailed,
		Module:   ev.Module,
		RecordID: ev.RecordID,
		Payload: map[string]interface{}{
			"eventId": ev.ID,
			"error":   ev.LastError,
			"retries": ev.RetryCount,
		},
	})
	return false
}

// retryDelay is base × 2^(attempt−1).
func retryDelay(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

func (s *WebhookServiceImpl) recordLatency(d time.Duration) {
	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()
	s.latencySum += float64(d.Milliseconds())
	s.latencyN++
}

func (s *WebhookServiceImpl) Metrics() IngestMetrics {
	s.latencyMu.Lock()
	var avg float64
	if s.latencyN > 0 {
		avg = s.latencySum / float64(s.latencyN)
	}
	s.latencyMu.Unlock()

	s.mu.Lock()
	open := len(s.batches)
	s.mu.Unlock()

	return IngestMetrics{
		Received:     s.received.Load(),
		Filtered:     s.filtered.Load(),
		Processed:    s.processed.Load(),
		Failed:       s.failed.Load(),
		AvgLatencyMs: avg,
		OpenBatches:  open,
	}
}

func (s *WebhookServiceImpl) RegisterSubscriptions(ctx context.Context) error {
	for _, module := range s.Config.SyncModules {
		sub := remote.Subscription{
			Module:     module,
			NotifyURL:  s.Config.WebhookNotifyURL,
			Operations: []string{"create", "update", "delete"},
			Secret:     s.Config.WebhookSecret,
		}
		if err := s.Remote.RegisterWebhook(ctx, sub); err != nil {
			// Subscription failures must not keep the service from starting
			s.Logger.Error("failed to register webhook subscription",
				zap.String("module", module),
				zap.Error(err),
			)
			continue
		}
		s.Logger.Info("webhook subscription registered", zap.String("module", module))
	}
	return nil
}

// Flush closes every open batch and waits for their drains, bounded by
// the context. Used on shutdown.
func (s *WebhookServiceImpl) Flush(ctx context.Context) error {
	s.mu.Lock()
	for module, ob := range s.batches {
		s.closeLocked(module, ob)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.drains.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebhookServiceImpl) EvictExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.Config.EventRetentionDays)
	removed, err := s.Repo.EvictEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.Logger.Info("evicted expired change events",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff),
		)
	}
	return removed, nil
}

func (s *WebhookServiceImpl) ListEvents(ctx context.Context, module string, status EventStatus, limit int64) ([]ChangeEvent, error) {
	filter := map[string]interface{}{}
	if module != "" {
		filter["module"] = module
	}
	if status != "" {
		filter["status"] = status
	}
	return s.Repo.ListEvents(ctx, filter, limit)
}

func (s *WebhookServiceImpl) ListBatches(ctx context.Context, module string, limit int64) ([]EventBatch, error) {
	filter := map[string]interface{}{}
	if module != "" {
		filter["module"] = module
	}
	return s.Repo.ListBatches(ctx, filter, limit)
}

func (s *WebhookServiceImpl) CreateFilter(ctx context.Context, filter *EventFilter) error {
	if filter.Name == "" || filter.Module == "" {
		return apperrors.New(apperrors.CodeValidation, "filter name and module are required")
	}
	// Reject predicates that can never compile
	if filter.Predicate != "" {
		if err := checkPredicate(filter.Predicate); err != nil {
			return apperrors.Wrap(apperrors.CodeValidation, "invalid filter predicate", err)
		}
	}
	return s.Repo.CreateFilter(ctx, filter)
}

func (s *WebhookServiceImpl) ListFilters(ctx context.Context) ([]EventFilter, error) {
	return s.Repo.ListFilters(ctx)
}

func (s *WebhookServiceImpl) UpdateFilter(ctx context.Context, id string, updates map[string]interface{}) error {
	return s.Repo.UpdateFilter(ctx, id, updates)
}

func (s *WebhookServiceImpl) DeleteFilter(ctx context.Context, id string) error {
	return s.Repo.DeleteFilter(ctx, id)
}
