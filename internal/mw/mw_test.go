package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdentify(t *testing.T) {
	r := gin.New()
	r.Use(Identify())
	r.GET("/whoami", func(c *gin.Context) {
		id, _ := IdentityFrom(c)
		c.JSON(http.StatusOK, gin.H{"hash": id.StudentHash, "role": id.Role, "deficit": id.CreditDeficit})
	})

	w := perform(r, "GET", "/whoami", map[string]string{
		HeaderStudentHash:   "abc123",
		HeaderCreditDeficit: "0.25",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"hash":"abc123","role":"student","deficit":0.25}`, w.Body.String())

	w = perform(r, "GET", "/whoami", map[string]string{HeaderRole: "Admin"})
	assert.JSONEq(t, `{"hash":"","role":"admin","deficit":0}`, w.Body.String())

	w = perform(r, "GET", "/whoami", map[string]string{HeaderStudentHash: "not a hash!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(r, "GET", "/whoami", map[string]string{HeaderStudentHash: "abc", HeaderCreditDeficit: "1.5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"error"`)
}

func TestRequireStudentAndRole(t *testing.T) {
	r := gin.New()
	r.Use(Identify())
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.GET("/student", RequireStudent(), ok)
	r.GET("/admin", RequireRole(RoleAdmin), ok)
	r.GET("/confirm", RequireRole(RoleRegistrar, RoleAdmin), ok)

	assert.Equal(t, http.StatusUnauthorized, perform(r, "GET", "/student", nil).Code)
	assert.Equal(t, http.StatusNoContent, perform(r, "GET", "/student", map[string]string{HeaderStudentHash: "abc"}).Code)

	assert.Equal(t, http.StatusUnauthorized, perform(r, "GET", "/admin", nil).Code)
	assert.Equal(t, http.StatusForbidden, perform(r, "GET", "/admin", map[string]string{HeaderStudentHash: "abc"}).Code)
	assert.Equal(t, http.StatusNoContent, perform(r, "GET", "/admin", map[string]string{HeaderRole: "admin"}).Code)

	assert.Equal(t, http.StatusNoContent, perform(r, "GET", "/confirm", map[string]string{HeaderRole: "registrar"}).Code)
	assert.Equal(t, http.StatusForbidden, perform(r, "GET", "/confirm", map[string]string{HeaderRole: "student"}).Code)
}

func TestRateLimiter_PerStudent(t *testing.T) {
	r := gin.New()
	r.Use(Identify(), RateLimiter(rate.Limit(0.001), 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	alice := map[string]string{HeaderStudentHash: "alice"}
	bob := map[string]string{HeaderStudentHash: "bob"}

	assert.Equal(t, http.StatusOK, perform(r, "GET", "/", alice).Code)
	assert.Equal(t, http.StatusOK, perform(r, "GET", "/", alice).Code)
	w := perform(r, "GET", "/", alice)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limited")

	// Same client IP, different student.
	assert.Equal(t, http.StatusOK, perform(r, "GET", "/", bob).Code)
}

func TestKeyedRateLimiter_ReusesLimiter(t *testing.T) {
	l := NewKeyedRateLimiter(rate.Limit(1), 1)
	assert.Same(t, l.GetLimiter("a"), l.GetLimiter("a"))
	assert.NotSame(t, l.GetLimiter("a"), l.GetLimiter("b"))
}

func TestCache(t *testing.T) {
	calls := 0
	r := gin.New()
	r.GET("/demand", Cache(cache.New(time.Minute, time.Minute), time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.GET("/missing", Cache(cache.New(time.Minute, time.Minute), time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusNotFound, gin.H{"calls": calls})
	})

	first := perform(r, "GET", "/demand", nil)
	second := perform(r, "GET", "/demand", nil)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Contains(t, second.Header().Get("Content-Type"), "application/json")

	perform(r, "GET", "/missing", nil)
	perform(r, "GET", "/missing", nil)
	assert.Equal(t, 3, calls, "error responses are not cached")
}

func TestRecoveryAndAccessLog(t *testing.T) {
	r := gin.New()
	r.Use(AccessLog(zaptest.NewLogger(t)), Recovery(zaptest.NewLogger(t)))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := perform(r, "GET", "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"status":"error","error":"internal","message":"internal error"}`, w.Body.String())
}
