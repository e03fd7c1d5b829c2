package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/crypto/bcrypt"

	apierrors "licsrv/internal/errors"
	"licsrv/internal/infrastructure"
	"licsrv/internal/license"
	"licsrv/internal/shared/testutil"
)

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = infrastructure.GetTraceID(r.Context())
	}))

	t.Run("generates", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("keeps client id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "client-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "client-42", seen)
		assert.Equal(t, "client-42", rec.Header().Get(RequestIDHeader))
	})
}

func TestStructuredLogger(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := RequestID(StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	testutil.AssertLogContains(t, logs, slog.LevelInfo, "request completed")
	testutil.AssertLogAttr(t, logs, "status", int64(http.StatusTeapot))
	testutil.AssertLogAttr(t, logs, "path", "/healthz")
}

func TestCORS(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://admin.example.com"}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/admin/keys", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/keys", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	logger, logs := testutil.NewTestLogger(t)
	errorHandler := apierrors.NewErrorHandler(logger, false)

	var got license.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = license.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	newHandler := func(hash string) http.Handler {
		return AdminAuth(AdminAuthConfig{
			Username:     "admin",
			PasswordHash: hash,
			Now:          func() time.Time { return testutil.FixedTime },
		}, errorHandler, logger)(next)
	}

	tests := []struct {
		name       string
		hash       string
		user, pass string
		noAuth     bool
		wantStatus int
	}{
		{name: "valid credentials", hash: string(hash), user: "admin", pass: "s3cret", wantStatus: http.StatusOK},
		{name: "wrong password", hash: string(hash), user: "admin", pass: "nope", wantStatus: http.StatusUnauthorized},
		{name: "wrong user", hash: string(hash), user: "root", pass: "s3cret", wantStatus: http.StatusUnauthorized},
		{name: "no credentials", hash: string(hash), noAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "admin disabled", hash: "", user: "admin", pass: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = license.Actor{}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/keys", nil)
			if !tt.noAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()

			newHandler(tt.hash).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "admin", got.Subject)
				assert.Equal(t, "basic", got.Method)
				assert.Equal(t, testutil.FixedTime, got.AuthenticatedAt)
			} else {
				assert.True(t, got.IsZero())
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
			}
		})
	}

	assert.False(t, logs.ContainsAttr("password", "nope"))
}

type noteBody struct {
	Note string `json:"note" validate:"max=8"`
	Key  string `json:"key" validate:"required"`
}

func TestRequestValidator(t *testing.T) {
	rv := NewRequestValidator()

	t.Run("valid", func(t *testing.T) {
		var body noteBody
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"key":"K1","note":"ok"}`))
		require.NoError(t, rv.Decode(req, &body))
		assert.Equal(t, "K1", body.Key)
	})

	t.Run("malformed json", func(t *testing.T) {
		var body noteBody
		err := rv.Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"key":`)), &body)
		var apiErr *apierrors.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "INVALID_REQUEST", apiErr.ErrorCode)
	})

	t.Run("field errors use json names", func(t *testing.T) {
		var body noteBody
		err := rv.Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"far too long"}`)), &body)
		var apiErr *apierrors.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "VALIDATION_FAILED", apiErr.ErrorCode)

		fields := apiErr.Details.([]apierrors.ValidationError)
		require.Len(t, fields, 2)
		assert.Equal(t, "note", fields[0].Field)
		assert.Equal(t, "key", fields[1].Field)
		assert.Equal(t, "key is required", fields[1].Message)
	})
}

func TestOTel_RecordsRoutePattern(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	metrics, err := infrastructure.NewHTTPMetrics(provider.Meter("test"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(OTel(noop.NewTracerProvider().Tracer("test"), metrics))
	r.Get("/api/v1/admin/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, key := range []string{"A", "B"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/admin/keys/"+key, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var points []metricdata.DataPoint[int64]
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "http_requests_total" {
				points = m.Data.(metricdata.Sum[int64]).DataPoints
			}
		}
	}
	require.Len(t, points, 1, "both keys share one route series")
	assert.EqualValues(t, 2, points[0].Value)
	route, _ := points[0].Attributes.Value("route")
	assert.Equal(t, "/api/v1/admin/keys/{key}", route.AsString())
}
