package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/murmur/db"
	"github.com/deemkeen/murmur/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sender hands outbound activities to the delivery machinery. Send returns
// once the activity is queued; network delivery happens later.
type Sender interface {
	Send(ctx context.Context, username string, activity any, recipients []domain.Recipient) error
}

// retrySchedule is indexed by the number of failed attempts minus one.
var retrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	240 * time.Minute,
	1440 * time.Minute,
}

const maxDeliveryAttempts = 10

// RetryDelay returns the wait after the given number of failed attempts.
func RetryDelay(attempts int) time.Duration {
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(retrySchedule) {
		i = len(retrySchedule) - 1
	}
	return retrySchedule[i]
}

// Inboxes reduces recipients to distinct delivery endpoints: the shared
// inbox when the recipient has one, else its personal inbox. Order follows
// the first occurrence.
func Inboxes(recipients []domain.Recipient) []string {
	seen := make(map[string]bool, len(recipients))
	inboxes := make([]string, 0, len(recipients))
	for _, r := range recipients {
		inbox := r.SharedInboxURL
		if inbox == "" {
			inbox = r.InboxURL
		}
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		inboxes = append(inboxes, inbox)
	}
	return inboxes
}

type DeliveryConfig struct {
	Database    *db.DB
	Keys        *KeyStore
	Federation  Context
	Client      *http.Client
	UserAgent   string
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Delivery is a Sender backed by the delivery_queue table, plus the worker
// that drains it.
type Delivery struct {
	db          *db.DB
	keys        *KeyStore
	fed         Context
	client      *http.Client
	userAgent   string
	interval    time.Duration
	batchSize   int
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

func NewDelivery(cfg DeliveryConfig) *Delivery {
	d := &Delivery{
		db:          cfg.Database,
		keys:        cfg.Keys,
		fed:         cfg.Federation,
		client:      cfg.Client,
		userAgent:   cfg.UserAgent,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		now:         cfg.Clock,
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: 30 * time.Second}
	}
	if d.interval <= 0 {
		d.interval = 10 * time.Second
	}
	if d.batchSize <= 0 {
		d.batchSize = 10
	}
	if d.concurrency <= 0 {
		d.concurrency = 4
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.Named("delivery")
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Send serializes the activity once and queues one delivery per distinct
// inbox of the recipients.
func (d *Delivery) Send(ctx context.Context, username string, activity any, recipients []domain.Recipient) error {
	inboxes := Inboxes(recipients)
	if len(inboxes) == 0 {
		return nil
	}

	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	now := d.now()
	items := make([]domain.DeliveryQueueItem, 0, len(inboxes))
	for _, inbox := range inboxes {
		items = append(items, domain.DeliveryQueueItem{
			Id:           uuid.New(),
			Username:     username,
			InboxURI:     inbox,
			ActivityJSON: string(activityJSON),
			NextRetryAt:  now,
			CreatedAt:    now,
		})
	}
	if err := d.db.EnqueueDeliveries(ctx, items); err != nil {
		return fmt.Errorf("failed to queue deliveries: %w", err)
	}
	d.logger.Debug("queued activity", zap.String("username", username), zap.Int("inboxes", len(inboxes)))
	return nil
}

// Run drains the queue every interval until ctx is cancelled.
func (d *Delivery) Run(ctx context.Context) {
	d.logger.Info("delivery worker started", zap.Duration("interval", d.interval))
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("delivery worker stopped")
			return
		case <-ticker.C:
			d.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue attempts one batch of due deliveries and returns how many
// succeeded.
func (d *Delivery) ProcessQueue(ctx context.Context) int {
	items, err := d.db.ReadPendingDeliveries(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to read queue", zap.Error(err))
		return 0
	}
	if len(items) == 0 {
		return 0
	}
	d.logger.Debug("processing pending deliveries", zap.Int("count", len(items)))

	results := make([]bool, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := range items {
		item := items[i]
		g.Go(func() error {
			results[i] = d.attempt(gctx, item)
			return nil
		})
	}
	_ = g.Wait()

	delivered := 0
	for _, ok := range results {
		if ok {
			delivered++
		}
	}
	return delivered
}

func (d *Delivery) attempt(ctx context.Context, item domain.DeliveryQueueItem) bool {
	log := d.logger.With(zap.String("inbox", item.InboxURI), zap.Stringer("id", item.Id))

	err := d.deliver(ctx, item)
	if err == nil {
		log.Info("delivered activity")
		if err := d.db.DeleteDelivery(ctx, item.Id); err != nil {
			log.Error("failed to remove delivered item", zap.Error(err))
		}
		return true
	}

	item.Attempts++
	if item.Attempts >= maxDeliveryAttempts {
		log.Warn("giving up on delivery", zap.Int("attempts", item.Attempts), zap.Error(err))
		if err := d.db.DeleteDelivery(ctx, item.Id); err != nil {
			log.Error("failed to remove abandoned item", zap.Error(err))
		}
		return false
	}

	wait := RetryDelay(item.Attempts)
	log.Info("delivery failed, retrying later",
		zap.Int("attempts", item.Attempts), zap.Duration("retry_in", wait), zap.Error(err))
	if err := d.db.UpdateDeliveryAttempt(ctx, item.Id, item.Attempts, d.now().Add(wait)); err != nil {
		log.Error("failed to reschedule delivery", zap.Error(err))
	}
	return false
}

// deliver signs and posts a single queued activity.
func (d *Delivery) deliver(ctx context.Context, item domain.DeliveryQueueItem) error {
	pairs, err := d.keys.KeyPairsFor(ctx, item.Username)
	if err != nil {
		return fmt.Errorf("failed to load keys of %s: %w", item.Username, err)
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Date", d.now().UTC().Format(http.TimeFormat))

	primary := pairs[0]
	if err := SignRequest(req, primary, d.fed.KeyID(item.Username, primary.Type), body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
	return nil
}
