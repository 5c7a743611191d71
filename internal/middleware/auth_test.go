package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("test-secret-for-middleware-testing")
}

// newAdminRouter mirrors the admin route group: token check, then role check.
func newAdminRouter() *gin.Engine {
	router := gin.New()
	admin := router.Group("/api", AuthRequired(), AdminRequired())
	admin.GET("/settings/audit", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":  GetUserID(c),
			"username": GetUsername(c),
			"role":     GetRole(c),
		})
	})
	return router
}

func TestAdminChain(t *testing.T) {
	adminToken, _ := utils.GenerateToken(1, "root", models.RoleAdmin, 1)
	userToken, _ := utils.GenerateToken(2, "viewer", models.RoleUser, 1)

	tests := []struct {
		name        string
		auth        string
		wantStatus  int
		wantMessage string
	}{
		{"no header", "", http.StatusUnauthorized, "authorization header required"},
		{"not bearer", "Basic cm9vdDpwdw==", http.StatusUnauthorized, "invalid authorization header format"},
		{"bearer without token", "Bearer", http.StatusUnauthorized, "invalid authorization header format"},
		{"garbage token", "Bearer invalid.jwt.token", http.StatusUnauthorized, "invalid or expired token"},
		{"non-admin role", "Bearer " + userToken, http.StatusForbidden, "admin access required"},
		{"admin", "Bearer " + adminToken, http.StatusOK, ""},
	}

	router := newAdminRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/api/settings/audit", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, expected %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantMessage == "" {
				return
			}
			var body struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("error body is not a response envelope: %v", err)
			}
			if body.Message != tt.wantMessage || body.Code != tt.wantStatus {
				t.Errorf("envelope = %+v, expected code %d message %q", body, tt.wantStatus, tt.wantMessage)
			}
		})
	}
}

func TestAuthRequired_PopulatesContext(t *testing.T) {
	token, _ := utils.GenerateToken(7, "root", models.RoleAdmin, 1)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/settings/audit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	newAdminRouter().ServeHTTP(w, req)

	var got struct {
		UserID   uint   `json:"user_id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != 7 || got.Username != "root" || got.Role != models.RoleAdmin {
		t.Errorf("context = %+v", got)
	}
}

func TestContextAccessors_ToleratesMissingOrForeignValues(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if GetUserID(c) != 0 || GetUsername(c) != "" || GetRole(c) != "" {
		t.Error("accessors should return zero values on an empty context")
	}

	c.Set(ContextUserID, "42")
	if id := GetUserID(c); id != 0 {
		t.Errorf("a non-uint user id should read as 0, got %d", id)
	}

	c.Set(ContextUserID, uint(42))
	c.Set(ContextRole, models.RoleUser)
	if GetUserID(c) != 42 || GetRole(c) != models.RoleUser {
		t.Errorf("GetUserID = %d, GetRole = %q", GetUserID(c), GetRole(c))
	}
}
