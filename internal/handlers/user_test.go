package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/middleware"
	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/services"
	"github.com/huangang/backoffice/backend/internal/settings"
)

func newUserRouter(t *testing.T, actingID uint) *gin.Engine {
	t.Helper()
	db := newTestDB(t)
	auth := services.NewAuthService(db, services.NewSettingsService(db, settings.Catalog(), nil))
	h := NewUserHandler(db, auth)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, actingID)
		c.Next()
	})
	r.GET("/api/users", h.List)
	r.POST("/api/users", h.Create)
	r.PUT("/api/users/:id", h.Update)
	r.DELETE("/api/users/:id", h.Delete)
	return r
}

func TestUserHandler_CreateAndConflict(t *testing.T) {
	r := newUserRouter(t, 999)

	w, env := serve(r, "POST", "/api/users", `{"username":"ops","password":"s3cret-pass","nickname":"Ops"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var user struct {
		ID       uint   `json:"id"`
		Role     string `json:"role"`
		Password string `json:"password"`
	}
	_ = json.Unmarshal(env.Data, &user)
	if user.Role != models.RoleUser {
		t.Errorf("role = %q, expected default %q", user.Role, models.RoleUser)
	}
	if user.Password != "" {
		t.Error("password hash must not be serialized")
	}

	if w, _ := serve(r, "POST", "/api/users", `{"username":"ops","password":"another-pass"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate username should be 409, got %d", w.Code)
	}

	w, env = serve(r, "POST", "/api/users", `{"username":"short","password":"123"}`)
	if w.Code != http.StatusBadRequest || env.Details.Field != "password" {
		t.Errorf("short password should be rejected on password, got %d %+v", w.Code, env.Details)
	}
}

func TestUserHandler_SelfProtection(t *testing.T) {
	r := newUserRouter(t, 1)

	w, env := serve(r, "POST", "/api/users", `{"username":"admin","password":"admin12345","role":"admin"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var created struct {
		ID uint `json:"id"`
	}
	_ = json.Unmarshal(env.Data, &created)
	if created.ID != 1 {
		t.Fatalf("expected first user to get id 1, got %d", created.ID)
	}

	if w, _ := serve(r, "PUT", "/api/users/1", `{"is_active":false}`); w.Code != http.StatusBadRequest {
		t.Errorf("self update should be 400, got %d", w.Code)
	}
	if w, _ := serve(r, "DELETE", "/api/users/1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("self delete should be 400, got %d", w.Code)
	}
	if w, _ := serve(r, "DELETE", "/api/users/42", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing user should be 404, got %d", w.Code)
	}
}
