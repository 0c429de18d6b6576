package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/memorial_billing_server/config"
	"github.com/qs3c/memorial_billing_server/internal/api/middleware"
	"github.com/qs3c/memorial_billing_server/internal/pkg/jwt"
	"github.com/qs3c/memorial_billing_server/internal/pkg/ratelimit"
	"github.com/qs3c/memorial_billing_server/internal/pkg/response"
	"github.com/qs3c/memorial_billing_server/internal/repository"
	"github.com/qs3c/memorial_billing_server/internal/service"
	"github.com/qs3c/memorial_billing_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const gcashReceipt = `{"amount": "₱299.00", "currency": "PHP", "reference_no": "1234567890",
"payment_method": "gcash", "date": "2024-01-24", "sender_name": "Juan Dela Cruz", "status": "completed"}`

type fakeVision struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
}

func (f *fakeVision) ExtractText(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.response, f.err
}

type fakeStore struct {
	uploads []string
	err     error
}

func (f *fakeStore) UploadReceipt(userID string, data []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, userID)
	return "https://cdn.example.com/receipts/" + userID + "/proof.jpg", nil
}

// testEnv 基于 SQLite 内存库的完整服务栈
type testEnv struct {
	db            *gorm.DB
	cfg           *config.Config
	transactions  *service.TransactionService
	subscriptions *service.SubscriptionService
	approval      *service.ApprovalService
	extraction    *service.ExtractionService
	vision        *fakeVision
}

func setupTestEnv(t *testing.T) (*testEnv, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Extraction.RateLimit.PerMinute = 2

	logger, _ := testutil.NullLogger()
	transactions := service.NewTransactionService(repository.NewTransactionRepository(db))
	subscriptions := service.NewSubscriptionService(repository.NewSubscriptionRepository(db), nil)
	approval := service.NewApprovalService(transactions, subscriptions, cfg, nil, nil, logger)

	vision := &fakeVision{response: gcashReceipt}
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{
		PerMinute: cfg.Extraction.RateLimit.PerMinute,
		PerDay:    cfg.Extraction.RateLimit.PerDay,
	})
	extraction, err := service.NewExtractionService(vision, limiter, &cfg.Extraction, nil, logger)
	require.NoError(t, err)

	env := &testEnv{
		db:            db,
		cfg:           cfg,
		transactions:  transactions,
		subscriptions: subscriptions,
		approval:      approval,
		extraction:    extraction,
		vision:        vision,
	}
	return env, func() { testutil.CleanupTestDB(t, db) }
}

// mockAuth 模拟认证中间件
func mockAuth(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Set(middleware.RoleKey, role)
		c.Next()
	}
}

func asUser(userID string) gin.HandlerFunc {
	return mockAuth(userID, jwt.RoleUser)
}

func asAdmin() gin.HandlerFunc {
	return mockAuth("admin-1", jwt.RoleAdmin)
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

// decodeData 将 data 字段解码到指定结构
func decodeData(t *testing.T, resp response.Response, out interface{}) {
	t.Helper()

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

var errStorage = errors.New("storage unavailable")
