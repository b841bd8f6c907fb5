package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/MikeMC777/tienda-ordenes/internal/metrics"
	"github.com/MikeMC777/tienda-ordenes/internal/order"
)

const testSecret = "s3cret"

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func newAuthRouter(t *testing.T) *gin.Engine {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-key"), bcrypt.MinCost)
	require.NoError(t, err)
	a := NewAuth(testSecret, string(hash))

	r := gin.New()
	r.Use(RequestID())
	echo := func(c *gin.Context) { c.JSON(http.StatusOK, IdentityFrom(c)) }
	r.GET("/me", a.RequireCustomer(), echo)
	r.GET("/admin", a.RequireAdmin(), echo)
	return r
}

func TestRequireCustomer(t *testing.T) {
	t.Parallel()
	r := newAuthRouter(t)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u1"}), http.StatusUnauthorized},
		{"expired", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix(),
		}), http.StatusUnauthorized},
		{"no subject", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{}), http.StatusUnauthorized},
		{"ok", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"sub": "u1", "exp": time.Now().Add(time.Hour).Unix(),
		}), http.StatusOK},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		r.ServeHTTP(w, req)
		require.Equal(t, tc.want, w.Code, "%s: body=%s", tc.name, w.Body.String())
		if tc.want == http.StatusOK {
			var id order.Identity
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &id))
			require.Equal(t, "u1", id.UserID)
			require.False(t, id.Admin)
		} else {
			var body ErrorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, "unauthenticated", body.Error)
			require.NotEmpty(t, body.RequestID)
		}
	}
}

func TestRequireAdmin(t *testing.T) {
	t.Parallel()
	r := newAuthRouter(t)

	for key, want := range map[string]int{"": 401, "wrong": 401, "admin-key": 200} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set(AdminKeyHeader, key)
		r.ServeHTTP(w, req)
		require.Equal(t, want, w.Code, "key=%q", key)
	}

	// A customer token does not open admin routes.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u1"}))
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHashAdminKey(t *testing.T) {
	t.Parallel()
	hash, err := HashAdminKey("k")
	require.NoError(t, err)
	require.True(t, NewAuth("", hash).checkAdminKey("k"))
	require.False(t, NewAuth("", "").checkAdminKey("k"))
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	cases := map[error]int{
		fmt.Errorf("%w: x", order.ErrValidation):        http.StatusBadRequest,
		fmt.Errorf("%w: x", order.ErrAuthorization):     http.StatusForbidden,
		fmt.Errorf("%w: x", order.ErrNotFound):          http.StatusNotFound,
		fmt.Errorf("%w: x", order.ErrInvalidTransition): http.StatusConflict,
		fmt.Errorf("%w: x", order.ErrPersistence):       http.StatusInternalServerError,
		fmt.Errorf("boom"):                              http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, StatusOf(err), err.Error())
	}
}

func TestAbortWithError_HidesInternalDetail(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) {
		AbortWithError(c, fmt.Errorf("%w: insert order: dial tcp 10.0.0.3:5432", order.ErrPersistence))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "persistence_error", body.Error)
	require.Equal(t, "internal error", body.Message)
	require.Equal(t, "rid-1", body.RequestID)
	require.Equal(t, "rid-1", w.Header().Get("X-Request-ID"))
}

func TestMetricsAndLoggerMiddleware(t *testing.T) {
	t.Parallel()
	m := metrics.New(prometheus.NewRegistry())
	r := gin.New()
	r.Use(RequestID(), Logger(zap.NewNop()), Metrics(m))
	r.GET("/orders/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/orders/%d", i), nil))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/orders/:id", "204")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("unmatched", "404")))
}

func init() {
	gin.SetMode(gin.TestMode)
}
