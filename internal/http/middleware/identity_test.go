package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIdentity_HeadersAndFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Identity())
	var gotID, gotName string
	r.GET("/who", func(c *gin.Context) {
		gotID, gotName = UserID(c), UserName(c)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set(HeaderUserID, "  u-42 ")
	req.Header.Set(HeaderUserName, "Sam")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if gotID != "u-42" || gotName != "Sam" {
		t.Fatalf("got (%q, %q)", gotID, gotName)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/who", nil))
	if gotID != DefaultUserID || gotName != "" {
		t.Fatalf("fallback got (%q, %q)", gotID, gotName)
	}
}

func TestUserID_WithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if UserID(c) != DefaultUserID || UserName(c) != "" {
		t.Fatalf("expected defaults")
	}
}
