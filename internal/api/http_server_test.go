package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ridequeue/internal/config"
	"ridequeue/internal/database"
	"ridequeue/internal/events"
	"ridequeue/internal/models"
	"ridequeue/internal/repository"
	"ridequeue/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type testAPI struct {
	ts  *httptest.Server
	db  *database.DB
	svc *service.QueueService
	bus *events.EventBus
	hub *Hub
}

func newTestAPI(t *testing.T, cfg config.APIConfig) *testAPI {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewEventBus()
	svc := service.NewQueueService(db, repository.NewMemorySyncStateRepository(time.Hour), bus, config.QueueConfig{
		ConflictRetries:   3,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
		SyncRateLimit:     100,
		SyncRateWindow:    time.Minute,
	}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(logger)
	hub.Attach(bus)
	go hub.Run(ctx)

	server := NewHTTPServer(cfg, svc, db, hub, &logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testAPI{ts: ts, db: db, svc: svc, bus: bus, hub: hub}
}

func openAPI() config.APIConfig {
	return config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true}}
}

type request struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func (api *testAPI) do(t *testing.T, req request) *http.Response {
	t.Helper()
	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequest(req.method, api.ts.URL+req.path, body)
	require.NoError(t, err)
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func as(username, role string) map[string]string {
	return map[string]string{headerActorUsername: username, headerActorRole: role}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (api *testAPI) admit(t *testing.T, name string) *models.QueueEntry {
	t.Helper()
	resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/admissions", body: map[string]any{
		"payment_id":  "P-" + name,
		"customer_id": "C-" + name,
		"amount":      "15.00",
		"method":      "card",
	}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[admissionResponse](t, resp).Entry
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t, openAPI())

	resp := api.do(t, request{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))

	resp = api.do(t, request{method: http.MethodGet, path: "/readyz"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdmissions(t *testing.T) {
	api := newTestAPI(t, openAPI())

	first := api.admit(t, "A")
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "15", first.PaymentAmount.String())

	t.Run("RepeatedConfirmationReturnsExisting", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/admissions", body: map[string]any{
			"payment_id": "P-A", "customer_id": "C-A", "amount": 15,
		}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[admissionResponse](t, resp)
		assert.False(t, body.Created)
		assert.Equal(t, first.ID, body.Entry.ID)
	})

	t.Run("MissingPaymentID", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/admissions", body: map[string]any{
			"customer_id": "C-X",
		}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/admissions", body: map[string]any{
			"payment_id": "P-N", "customer_id": "C-N", "amount": "-1",
		}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("UnknownField", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/admissions", body: map[string]any{
			"payment_id": "P-U", "customer_id": "C-U", "position": 1,
		}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestQueueQueries(t *testing.T) {
	api := newTestAPI(t, openAPI())

	resp := api.do(t, request{method: http.MethodGet, path: "/api/v1/queue/next"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	a := api.admit(t, "A")
	b := api.admit(t, "B")

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/queue/next"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, a.ID, decode[models.QueueEntry](t, resp).ID)

	resp = api.do(t, request{method: http.MethodPost, path: "/api/v1/entries/" + a.ID + "/complete", headers: as("d1", models.RoleDriver)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/queue"})
	queue := decode[queueResponse](t, resp)
	require.Equal(t, 1, queue.Count)
	assert.Equal(t, b.ID, queue.Entries[0].ID)
	assert.Equal(t, 1, queue.Entries[0].Position)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/queue?include_terminal=true"})
	queue = decode[queueResponse](t, resp)
	require.Equal(t, 2, queue.Count)
	assert.Equal(t, a.ID, queue.Entries[1].ID)
	assert.Equal(t, models.StatusCompleted, queue.Entries[1].Status)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/queue?include_terminal=maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/entries/" + a.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "d1", decode[models.QueueEntry](t, resp).CompletedBy)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/entries/missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRideLifecycleEndpoints(t *testing.T) {
	api := newTestAPI(t, openAPI())
	a := api.admit(t, "A")
	b := api.admit(t, "B")

	t.Run("MissingActor", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/entries/" + a.ID + "/start"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("WrongRole", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/entries/" + a.ID + "/start", headers: as("s1", models.RoleSales)})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("NotAtHead", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/entries/" + b.ID + "/start", headers: as("d1", models.RoleDriver)})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("Start", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/entries/" + a.ID + "/start", headers: as("d1", models.RoleDriver)})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, models.StatusInProgress, decode[models.QueueEntry](t, resp).Status)
	})

	t.Run("RemoveInProgress", func(t *testing.T) {
		resp := api.do(t, request{
			method: http.MethodPost, path: "/api/v1/entries/" + a.ID + "/remove",
			body: map[string]string{"reason": "left"}, headers: as("s1", models.RoleSales),
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("RemoveRequiresReason", func(t *testing.T) {
		resp := api.do(t, request{
			method: http.MethodPost, path: "/api/v1/entries/" + b.ID + "/remove",
			body: map[string]string{"reason": "  "}, headers: as("s1", models.RoleSales),
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Remove", func(t *testing.T) {
		resp := api.do(t, request{
			method: http.MethodPost, path: "/api/v1/entries/" + b.ID + "/remove",
			body: map[string]string{"reason": "no-show"}, headers: as("d2", models.RoleDriver),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		entry := decode[models.QueueEntry](t, resp)
		assert.Equal(t, models.StatusCancelled, entry.Status)
		assert.Equal(t, "d2", entry.RemovedBy)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodGet, path: "/api/v1/entries/" + a.ID + "/start"})
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestReorderEndpoint(t *testing.T) {
	api := newTestAPI(t, openAPI())
	a := api.admit(t, "A")
	b := api.admit(t, "B")
	c := api.admit(t, "C")

	t.Run("InvalidSet", func(t *testing.T) {
		resp := api.do(t, request{
			method: http.MethodPost, path: "/api/v1/queue/reorder",
			body: map[string]any{"order": []string{a.ID, b.ID, b.ID, "ghost"}}, headers: as("s1", models.RoleSales),
		})
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		body := decode[struct {
			Missing   []string `json:"missing"`
			Extra     []string `json:"extra"`
			Duplicate []string `json:"duplicate"`
		}](t, resp)
		assert.Equal(t, []string{c.ID}, body.Missing)
		assert.Equal(t, []string{"ghost"}, body.Extra)
		assert.Equal(t, []string{b.ID}, body.Duplicate)
	})

	t.Run("DriverCannotReorder", func(t *testing.T) {
		resp := api.do(t, request{
			method: http.MethodPost, path: "/api/v1/queue/reorder",
			body: map[string]any{"order": []string{c.ID, a.ID, b.ID}}, headers: as("d1", models.RoleDriver),
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("Valid", func(t *testing.T) {
		resp := api.do(t, request{
			method: http.MethodPost, path: "/api/v1/queue/reorder",
			body: map[string]any{"order": []string{c.ID, a.ID, b.ID}}, headers: as("s1", models.RoleSales),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		queue := decode[queueResponse](t, resp)
		require.Len(t, queue.Entries, 3)
		assert.Equal(t, []string{c.ID, a.ID, b.ID}, []string{queue.Entries[0].ID, queue.Entries[1].ID, queue.Entries[2].ID})
	})

	t.Run("Recalculate", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/queue/recalculate"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 3, decode[queueResponse](t, resp).Count)
	})
}

func TestDesktopSyncEndpoints(t *testing.T) {
	api := newTestAPI(t, openAPI())
	d := api.admit(t, "D")
	e := api.admit(t, "E")
	f := api.admit(t, "F")

	resp := api.do(t, request{method: http.MethodGet, path: "/api/v1/sync/desktop/desk-1", headers: as("desk-1", models.RoleDesktop)})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, request{
		method: http.MethodPost, path: "/api/v1/sync/desktop",
		body: map[string]any{"snapshot": []string{e.ID, d.ID, "stale"}}, headers: as("desk-1", models.RoleDesktop),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[models.SyncReport](t, resp)
	assert.Equal(t, []string{e.ID, d.ID, f.ID}, report.Applied)
	assert.Equal(t, []string{f.ID}, report.CloudOnlyAppended)
	assert.Equal(t, []string{"stale"}, report.StaleReferences)
	assert.True(t, report.Changed)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/sync/desktop/desk-1", headers: as("s1", models.RoleSales)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[models.DesktopSyncState](t, resp)
	assert.Equal(t, int64(1), state.SyncCount)

	resp = api.do(t, request{
		method: http.MethodPost, path: "/api/v1/sync/desktop",
		body: map[string]any{"snapshot": []string{}}, headers: as("d1", models.RoleDriver),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodDelete, path: "/api/v1/sync/desktop/desk-1", headers: as("d1", models.RoleDriver)})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodDelete, path: "/api/v1/sync/desktop/desk-1", headers: as("s1", models.RoleSales)})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/sync/desktop/desk-1", headers: as("desk-1", models.RoleDesktop)})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMirrorTasksEndpoint(t *testing.T) {
	api := newTestAPI(t, openAPI())
	ctx := context.Background()

	lastErr := "quota exceeded"
	failed := &models.SyncTask{TaskType: "queue_snapshot", Payload: "{}", Status: models.SyncStatusFailed, LastError: &lastErr}
	require.NoError(t, api.db.CreateSyncTask(ctx, failed))
	require.NoError(t, api.db.CreateSyncTask(ctx, &models.SyncTask{TaskType: "queue_snapshot", Payload: "{}"}))

	resp := api.do(t, request{method: http.MethodGet, path: "/api/v1/mirror/tasks", headers: as("s1", models.RoleSales)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[mirrorTasksResponse](t, resp)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, failed.ID, body.Tasks[0].ID)
	assert.Equal(t, lastErr, *body.Tasks[0].LastError)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/mirror/tasks?status=pending&limit=5", headers: as("s1", models.RoleSales)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[mirrorTasksResponse](t, resp).Count)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/mirror/tasks?status=retry", headers: as("s1", models.RoleSales)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	empty := decode[mirrorTasksResponse](t, resp)
	assert.Equal(t, 0, empty.Count)
	assert.NotNil(t, empty.Tasks)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/mirror/tasks?status=bogus", headers: as("s1", models.RoleSales)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/mirror/tasks?limit=-1", headers: as("s1", models.RoleSales)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/mirror/tasks", headers: as("desk-1", models.RoleDesktop)})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestExportEndpoint(t *testing.T) {
	api := newTestAPI(t, openAPI())
	api.admit(t, "A")
	api.admit(t, "B")

	resp := api.do(t, request{method: http.MethodGet, path: "/api/v1/queue/export.xlsx"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "queue_")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(models.ExportSheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := openAPI()
	cfg.Auth = config.APIAuthConfig{
		Enabled:      true,
		HeaderAPIKey: "x-api-key",
		HeaderExtra:  "x-api-extra",
		APIKeys: []config.APIClientKey{
			{Key: "payments", Extra: "secret", Permissions: []string{PermQueueAdmit}},
			{Key: "reader", Extra: "secret", Permissions: []string{PermQueueRead}},
			{Key: "ops", Extra: "secret"},
		},
	}
	api := newTestAPI(t, cfg)

	key := func(k string) map[string]string {
		return map[string]string{"x-api-key": k, "x-api-extra": "secret"}
	}

	resp := api.do(t, request{method: http.MethodGet, path: "/api/v1/queue"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/queue", headers: map[string]string{"x-api-key": "reader", "x-api-extra": "wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/queue", headers: key("payments")})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/queue", headers: key("reader")})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodPost, path: "/api/v1/admissions", headers: key("payments"), body: map[string]any{
		"payment_id": "P-1", "customer_id": "C-1",
	}})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// empty permission list allows everything
	resp = api.do(t, request{method: http.MethodPost, path: "/api/v1/queue/recalculate", headers: key("ops")})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// health is never behind auth
	resp = api.do(t, request{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPRateLimit(t *testing.T) {
	cfg := openAPI()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 1, Burst: 1}
	api := newTestAPI(t, cfg)

	headers := map[string]string{"x-api-key": "client-1"}
	resp := api.do(t, request{method: http.MethodGet, path: "/api/v1/queue", headers: headers})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/queue", headers: headers})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = api.do(t, request{method: http.MethodGet, path: "/api/v1/queue", headers: map[string]string{"x-api-key": "client-2"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func signToken(t *testing.T, secret, username, role string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTActor(t *testing.T) {
	cfg := openAPI()
	cfg.Auth.JWTSecret = "test-secret"
	api := newTestAPI(t, cfg)
	a := api.admit(t, "A")

	bearer := func(token string) map[string]string {
		return map[string]string{"Authorization": "Bearer " + token}
	}

	t.Run("HeadersIgnored", func(t *testing.T) {
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/entries/" + a.ID + "/start", headers: as("d1", models.RoleDriver)})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token := signToken(t, "other", "d1", models.RoleDriver, time.Hour)
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/entries/" + a.ID + "/start", headers: bearer(token)})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Expired", func(t *testing.T) {
		token := signToken(t, "test-secret", "d1", models.RoleDriver, -time.Minute)
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/entries/" + a.ID + "/start", headers: bearer(token)})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Valid", func(t *testing.T) {
		token := signToken(t, "test-secret", "driver-7", "DRIVER", time.Hour)
		resp := api.do(t, request{method: http.MethodPost, path: "/api/v1/entries/" + a.ID + "/complete", headers: bearer(token)})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "driver-7", decode[models.QueueEntry](t, resp).CompletedBy)
	})
}

func TestLiveFeed(t *testing.T) {
	api := newTestAPI(t, openAPI())
	first := api.admit(t, "A")

	wsURL := "ws" + strings.TrimPrefix(api.ts.URL, "http") + "/api/v1/queue/ws"
	header := http.Header{}
	header.Set(headerActorUsername, "s1")
	header.Set(headerActorRole, models.RoleSales)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	readMessage := func() feedMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg feedMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	snapshot := readMessage()
	assert.Equal(t, messageQueueSnapshot, snapshot.Type)
	var queue queueResponse
	require.NoError(t, json.Unmarshal(snapshot.Payload, &queue))
	require.Equal(t, 1, queue.Count)
	assert.Equal(t, first.ID, queue.Entries[0].ID)

	require.Eventually(t, func() bool { return api.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	second := api.admit(t, "B")
	msg := readMessage()
	assert.Equal(t, events.EventEntryAdded, msg.Type)
	payload, err := events.DecodeQueuePayload(&events.Event{Payload: msg.Payload})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, payload.EntryIDs)
	assert.Equal(t, 2, payload.Position)
}

func TestLiveFeedRequiresActor(t *testing.T) {
	api := newTestAPI(t, openAPI())

	resp := api.do(t, request{method: http.MethodGet, path: "/api/v1/queue/ws"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
