package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/memorial_billing_server/config"
	"github.com/qs3c/memorial_billing_server/internal/model"
	"github.com/qs3c/memorial_billing_server/internal/model/dto"
	"github.com/qs3c/memorial_billing_server/internal/pkg/pubsub"
	"github.com/qs3c/memorial_billing_server/internal/pkg/queue"
	"github.com/qs3c/memorial_billing_server/internal/repository"
	"github.com/qs3c/memorial_billing_server/internal/testutil"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []*pubsub.ReviewMessage
	err      error
}

func (n *recordingNotifier) PublishReview(ctx context.Context, msg *pubsub.ReviewMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

type recordingRetrier struct {
	mu       sync.Mutex
	messages []*queue.ActivationMessage
	err      error
}

func (r *recordingRetrier) Push(ctx context.Context, msg *queue.ActivationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.err
}

type approvalFixture struct {
	service  *ApprovalService
	ledger   *TransactionService
	subs     *SubscriptionService
	notifier *recordingNotifier
	db       *gorm.DB
	now      time.Time
}

func setupApprovalService(t *testing.T, cfg *config.Config) (*approvalFixture, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.ApplyDefaults()

	now := time.Date(2024, 1, 24, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	ledger := NewTransactionService(repository.NewTransactionRepository(db))
	ledger.now = clock
	subs := NewSubscriptionService(repository.NewSubscriptionRepository(db), nil)
	subs.now = clock

	notifier := &recordingNotifier{}
	logger, _ := testutil.NullLogger()
	service := NewApprovalService(ledger, subs, cfg, notifier, nil, logger)
	service.now = clock

	f := &approvalFixture{
		service:  service,
		ledger:   ledger,
		subs:     subs,
		notifier: notifier,
		db:       db,
		now:      now,
	}
	return f, func() { testutil.CleanupTestDB(t, db) }
}

func TestApprovalService_Approve_GrantsThirtyDays(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	tx := testutil.TestTransaction(t, f.db, "user-1")

	result, err := f.service.Approve(context.Background(), tx.ID)
	require.NoError(t, err)

	assert.Equal(t, model.TransactionApproved, result.Transaction.Status)
	require.NotNil(t, result.Transaction.ReviewedAt)

	sub := result.Subscription
	require.NotNil(t, sub)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	require.NotNil(t, sub.StartDate)
	require.NotNil(t, sub.EndDate)
	assert.True(t, sub.StartDate.Equal(f.now))
	assert.True(t, sub.EndDate.Equal(f.now.Add(30*24*time.Hour)))
	assert.Equal(t, sub.EndDate, sub.ExpiryDate)
	assert.Equal(t, 30, sub.DaysLeft)
	assert.Equal(t, 30, sub.TotalDays)

	require.Len(t, f.notifier.messages, 1)
	msg := f.notifier.messages[0]
	assert.Equal(t, "user-1", msg.UserID)
	assert.Equal(t, model.TransactionApproved, msg.Status)
	assert.Equal(t, model.SubscriptionActive, msg.SubscriptionStatus)
}

func TestApprovalService_Approve_KeepsCheckoutPlan(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	_, err := f.subs.Checkout(context.Background(), "user-1", model.PlanPaws)
	require.NoError(t, err)
	tx := testutil.TestTransaction(t, f.db, "user-1")

	result, err := f.service.Approve(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanPaws, result.Subscription.Plan)
	assert.Equal(t, model.SubscriptionActive, result.Subscription.Status)
}

func TestApprovalService_Approve_GCashScenario(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	ctx := context.Background()
	sender := "Juan Dela Cruz"
	extracted := &dto.ExtractionResult{
		Amount:        299,
		Currency:      "PHP",
		ReferenceNo:   "1234567890",
		PaymentMethod: "GCash",
		Date:          "2024-01-24",
		SenderName:    &sender,
		Status:        "completed",
	}

	tx, err := f.ledger.Create(ctx, "user-1", dto.CreateTransactionRequestFromExtraction("user-1", extracted, ""))
	require.NoError(t, err)
	assert.Equal(t, model.TransactionPending, tx.Status)

	result, err := f.service.Approve(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionApproved, result.Transaction.Status)

	sub, err := f.subs.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.True(t, sub.EndDate.Equal(f.now.Add(30*24*time.Hour)))
}

func TestApprovalService_Approve_NotFound(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	_, err := f.service.Approve(context.Background(), "missing")
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))

	sub, _ := f.subs.Get(context.Background(), "user-1")
	assert.Nil(t, sub)
	assert.Empty(t, f.notifier.messages)
}

func TestApprovalService_Approve_PartialFailure(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	tx := testutil.TestTransaction(t, f.db, "user-1")
	require.NoError(t, f.db.Migrator().DropTable(&model.Subscription{}))

	result, err := f.service.Approve(context.Background(), tx.ID)
	assert.Nil(t, result)

	var pf *PartialFailureError
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, tx.ID, pf.Transaction.ID)
	assert.Equal(t, model.TransactionApproved, pf.Transaction.Status)

	var pe *PersistenceError
	assert.True(t, errors.As(err, &pe), "cause should be the storage failure")

	stored, err := f.ledger.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionApproved, stored.Status, "transaction must stay approved")

	require.Len(t, f.notifier.messages, 1)
	assert.NotEmpty(t, f.notifier.messages[0].Error)
}

func TestApprovalService_ActivateSubscription_AfterPartialFailure(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	ctx := context.Background()
	tx := testutil.TestTransaction(t, f.db, "user-1")
	require.NoError(t, f.db.Migrator().DropTable(&model.Subscription{}))

	_, err := f.service.Approve(ctx, tx.ID)
	require.Error(t, err)

	require.NoError(t, f.db.AutoMigrate(&model.Subscription{}))

	result, err := f.service.ActivateSubscription(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, result.Subscription.Status)
}

func TestApprovalService_Approve_PartialFailureEnqueuesRetry(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	retrier := &recordingRetrier{}
	f.service.SetRetrier(retrier)

	tx := testutil.TestTransaction(t, f.db, "user-1")
	require.NoError(t, f.db.Migrator().DropTable(&model.Subscription{}))

	_, err := f.service.Approve(context.Background(), tx.ID)
	require.Error(t, err)

	require.Len(t, retrier.messages, 1)
	assert.Equal(t, tx.ID, retrier.messages[0].TransactionID)
	assert.Equal(t, "user-1", retrier.messages[0].UserID)
	assert.Equal(t, 1, retrier.messages[0].Attempt)
	assert.NotEmpty(t, retrier.messages[0].LastError)
}

func TestApprovalService_Approve_RetryQueueFailureIgnored(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	f.service.SetRetrier(&recordingRetrier{err: errors.New("redis down")})

	tx := testutil.TestTransaction(t, f.db, "user-1")
	require.NoError(t, f.db.Migrator().DropTable(&model.Subscription{}))

	_, err := f.service.Approve(context.Background(), tx.ID)
	var pf *PartialFailureError
	assert.True(t, errors.As(err, &pf))
}

func TestApprovalService_Approve_SuccessDoesNotEnqueue(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	retrier := &recordingRetrier{}
	f.service.SetRetrier(retrier)

	tx := testutil.TestTransaction(t, f.db, "user-1")
	_, err := f.service.Approve(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Empty(t, retrier.messages)
}

// failSubscriptionWrites 让订阅写入失败，返回恢复函数
func failSubscriptionWrites(t *testing.T, db *gorm.DB) func() {
	t.Helper()

	failing := true
	err := db.Callback().Create().Before("gorm:begin_transaction").Register("test:fail_subscription_write", func(tx *gorm.DB) {
		if failing && tx.Statement.Table == "subscriptions" {
			tx.AddError(errors.New("subscription store unavailable"))
		}
	})
	require.NoError(t, err)
	return func() { failing = false }
}

func TestApprovalService_Approve_GrantAcrossDSTChange(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}

	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	// 3 月 10 日夏令时开始，这一天只有 23 小时
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, loc)
	clock := func() time.Time { return now }
	f.service.now, f.subs.now, f.ledger.now = clock, clock, clock

	tx := testutil.TestTransaction(t, f.db, "user-1")
	result, err := f.service.Approve(context.Background(), tx.ID)
	require.NoError(t, err)

	require.NotNil(t, result.Subscription.EndDate)
	end := *result.Subscription.EndDate
	assert.True(t, end.Equal(now.Add(30*24*time.Hour)))
	assert.False(t, end.Equal(now.AddDate(0, 0, 30)))
}

func TestSubscriptionService_Checkout_ConcurrentApprovalKeepsEntitlement(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	ctx := context.Background()
	tx := testutil.TestTransaction(t, f.db, "user-1")

	// 审核开通恰好发生在 checkout 写入之前
	var approveErr error
	fired := false
	err := f.db.Callback().Create().Before("gorm:begin_transaction").Register("test:approve_during_checkout", func(db *gorm.DB) {
		sub, ok := db.Statement.Dest.(*model.Subscription)
		if fired || !ok || sub.Status != model.SubscriptionPending {
			return
		}
		fired = true
		_, approveErr = f.service.Approve(ctx, tx.ID)
	})
	require.NoError(t, err)

	sub, err := f.subs.Checkout(ctx, "user-1", model.PlanPaws)
	require.NoError(t, err)
	require.True(t, fired)
	require.NoError(t, approveErr)

	assert.Equal(t, model.SubscriptionActive, sub.Status)
	require.NotNil(t, sub.EndDate)
	assert.True(t, sub.EndDate.Equal(f.now.Add(30*24*time.Hour)))

	approved, err := f.ledger.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionApproved, approved.Status)
}

func TestApprovalService_RetryActivation(t *testing.T) {
	ctx := context.Background()

	t.Run("activates missing subscription", func(t *testing.T) {
		f, cleanup := setupApprovalService(t, nil)
		defer cleanup()

		tx := testutil.TestTransaction(t, f.db, "user-1",
			testutil.WithTxStatus(model.TransactionApproved), testutil.WithReviewedAt(f.now))

		activated, err := f.service.RetryActivation(ctx, tx.ID)
		require.NoError(t, err)
		assert.True(t, activated)

		sub, err := f.subs.Get(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.True(t, f.now.Add(30*24*time.Hour).Equal(*sub.EndDate))
		require.Len(t, f.notifier.messages, 1)
	})

	t.Run("renews live subscription granted before review", func(t *testing.T) {
		f, cleanup := setupApprovalService(t, nil)
		defer cleanup()

		tx := testutil.TestTransaction(t, f.db, "user-1",
			testutil.WithTxStatus(model.TransactionApproved), testutil.WithReviewedAt(f.now.Add(-time.Hour)))
		testutil.TestSubscription(t, f.db, "user-1",
			testutil.WithPeriod(f.now.Add(-20*24*time.Hour), f.now.Add(10*24*time.Hour)))

		activated, err := f.service.RetryActivation(ctx, tx.ID)
		require.NoError(t, err)
		assert.True(t, activated)

		sub, err := f.subs.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, f.now.Add(30*24*time.Hour).Equal(*sub.EndDate))
	})

	t.Run("skips subscription activated after review", func(t *testing.T) {
		f, cleanup := setupApprovalService(t, nil)
		defer cleanup()

		tx := testutil.TestTransaction(t, f.db, "user-1",
			testutil.WithTxStatus(model.TransactionApproved), testutil.WithReviewedAt(f.now.Add(-time.Hour)))
		existing := testutil.TestSubscription(t, f.db, "user-1",
			testutil.WithPeriod(f.now.Add(-time.Hour), f.now.Add(-time.Hour).Add(30*24*time.Hour)))

		activated, err := f.service.RetryActivation(ctx, tx.ID)
		require.NoError(t, err)
		assert.False(t, activated)

		sub, err := f.subs.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, existing.EndDate.Equal(*sub.EndDate))
	})

	t.Run("rejects non approved", func(t *testing.T) {
		f, cleanup := setupApprovalService(t, nil)
		defer cleanup()

		tx := testutil.TestTransaction(t, f.db, "user-1", testutil.WithTxStatus(model.TransactionRejected))

		_, err := f.service.RetryActivation(ctx, tx.ID)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("missing transaction", func(t *testing.T) {
		f, cleanup := setupApprovalService(t, nil)
		defer cleanup()

		_, err := f.service.RetryActivation(ctx, "missing")
		var nf *NotFoundError
		assert.True(t, errors.As(err, &nf))
	})
}

func TestApprovalService_RenewalAfterPartialFailureIsRetried(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	ctx := context.Background()
	testutil.TestSubscription(t, f.db, "user-1",
		testutil.WithPeriod(f.now.Add(-20*24*time.Hour), f.now.Add(10*24*time.Hour)))
	tx := testutil.TestTransaction(t, f.db, "user-1")

	restore := failSubscriptionWrites(t, f.db)
	_, err := f.service.Approve(ctx, tx.ID)
	var pf *PartialFailureError
	require.True(t, errors.As(err, &pf))
	restore()

	report, err := f.service.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{tx.ID}, report.Activated)

	sub, err := f.subs.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, f.now.Add(30*24*time.Hour).Equal(*sub.EndDate))

	// 已补开，队列重试不再重复开通
	activated, err := f.service.RetryActivation(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, activated)
}

func TestApprovalService_ActivateSubscription_RequiresApproved(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	tx := testutil.TestTransaction(t, f.db, "user-1")

	_, err := f.service.ActivateSubscription(context.Background(), tx.ID)
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestApprovalService_Reject(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	existing := testutil.TestSubscription(t, f.db, "user-1",
		testutil.WithPlan(model.PlanPaws),
		testutil.WithSubStatus(model.SubscriptionExpired))
	tx := testutil.TestTransaction(t, f.db, "user-1")

	rejected, err := f.service.Reject(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionRejected, rejected.Status)
	assert.NotNil(t, rejected.ReviewedAt)

	sub, err := f.subs.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, existing.Status, sub.Status)
	assert.Equal(t, existing.Plan, sub.Plan)
	assert.True(t, sub.EndDate.Equal(*existing.EndDate))
	assert.True(t, sub.UpdatedAt.Equal(existing.UpdatedAt))
}

func TestApprovalService_Reject_NoSubscriptionCreated(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	tx := testutil.TestTransaction(t, f.db, "user-1")

	_, err := f.service.Reject(context.Background(), tx.ID)
	require.NoError(t, err)

	sub, err := f.subs.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestApprovalService_ReviewTwice_DefaultAllowed(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	tx := testutil.TestTransaction(t, f.db, "user-1")

	_, err := f.service.Reject(context.Background(), tx.ID)
	require.NoError(t, err)

	result, err := f.service.Approve(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionApproved, result.Transaction.Status)
}

func TestApprovalService_RequirePending(t *testing.T) {
	cfg := &config.Config{Approval: config.ApprovalConfig{RequirePending: true}}
	f, cleanup := setupApprovalService(t, cfg)
	defer cleanup()

	tx := testutil.TestTransaction(t, f.db, "user-1")

	_, err := f.service.Approve(context.Background(), tx.ID)
	require.NoError(t, err)

	_, err = f.service.Approve(context.Background(), tx.ID)
	assert.ErrorIs(t, err, ErrReviewNotPending)

	_, err = f.service.Reject(context.Background(), tx.ID)
	assert.ErrorIs(t, err, ErrReviewNotPending)
}

func TestApprovalService_NotificationFailureIgnored(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	f.notifier.err = errors.New("redis down")
	tx := testutil.TestTransaction(t, f.db, "user-1")

	result, err := f.service.Approve(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionApproved, result.Transaction.Status)
}

func TestApprovalService_Reconcile(t *testing.T) {
	f, cleanup := setupApprovalService(t, nil)
	defer cleanup()

	ctx := context.Background()
	reviewed := f.now.Add(-2 * time.Hour)

	// 订阅缺失
	missing := testutil.TestTransaction(t, f.db, "user-missing",
		testutil.WithTxStatus(model.TransactionApproved),
		testutil.WithReviewedAt(reviewed))

	// 订阅在审核前就已过期
	stale := testutil.TestTransaction(t, f.db, "user-stale",
		testutil.WithTxStatus(model.TransactionApproved),
		testutil.WithReviewedAt(reviewed))
	testutil.TestSubscription(t, f.db, "user-stale",
		testutil.WithSubStatus(model.SubscriptionExpired),
		testutil.WithPeriod(f.now.Add(-60*24*time.Hour), f.now.Add(-30*24*time.Hour)))

	// 已正常开通
	testutil.TestTransaction(t, f.db, "user-ok",
		testutil.WithTxStatus(model.TransactionApproved),
		testutil.WithReviewedAt(reviewed))
	testutil.TestSubscription(t, f.db, "user-ok",
		testutil.WithPeriod(reviewed, reviewed.AddDate(0, 0, 30)))

	// 超出回溯窗口
	testutil.TestTransaction(t, f.db, "user-old",
		testutil.WithTxStatus(model.TransactionApproved),
		testutil.WithReviewedAt(f.now.Add(-365*24*time.Hour)))

	report, err := f.service.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	assert.ElementsMatch(t, []string{missing.ID, stale.ID}, report.Activated)
	assert.Empty(t, report.Failed)

	for _, userID := range []string{"user-missing", "user-stale"} {
		sub, err := f.subs.Get(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, model.SubscriptionActive, sub.Status)
		assert.True(t, sub.EndDate.Equal(f.now.Add(30*24*time.Hour)))
	}

	old, err := f.subs.Get(ctx, "user-old")
	require.NoError(t, err)
	assert.Nil(t, old)

	// 再次执行不会重复开通
	report, err = f.service.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Activated)
}

func TestNeedsActivation(t *testing.T) {
	reviewed := time.Date(2024, 1, 24, 0, 0, 0, 0, time.UTC)
	before := reviewed.Add(-time.Hour)
	after := reviewed.Add(30 * 24 * time.Hour)
	tx := &model.Transaction{ReviewedAt: &reviewed}

	tests := []struct {
		name string
		tx   *model.Transaction
		sub  *model.Subscription
		want bool
	}{
		{"no subscription", tx, nil, true},
		{"no start date", tx, &model.Subscription{EndDate: &after}, true},
		{"started before review", tx, &model.Subscription{StartDate: &before, EndDate: &after}, true},
		{"started at review", tx, &model.Subscription{StartDate: &reviewed, EndDate: &after}, false},
		{"started after review", tx, &model.Subscription{StartDate: &after, EndDate: &after}, false},
		{"unknown review time", &model.Transaction{}, &model.Subscription{StartDate: &before}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsActivation(tt.tx, tt.sub))
		})
	}
}
