package metrics

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskora/taskora-backend/internal/auth"
	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

func metricsContext(providerID string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(providerID)
	return c, rec
}

func TestHandler_GetProviderMetrics(t *testing.T) {
	f := setupEngine(t)
	handler := NewHandler(f.engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.seedUser(t, "user_p", shared.RoleProvider)
	f.seedUser(t, "user_c", shared.RoleClient)

	c, rec := metricsContext("user_p")
	auth.SetClaimsForTest(c, &auth.Claims{UserID: "user_c"})

	if err := handler.handleGetProviderMetrics(c); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var view ProviderMetricsView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("response unmarshal failed: %v", err)
	}
	if view.ProviderID != "user_p" || view.Sufficient {
		t.Errorf("unexpected view %+v", view)
	}
}

func TestHandler_GetProviderMetricsErrors(t *testing.T) {
	f := setupEngine(t)
	handler := NewHandler(f.engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.seedUser(t, "user_c", shared.RoleClient)

	tests := []struct {
		name       string
		providerID string
		authed     bool
		want       int
	}{
		{"unauthenticated", "user_c", false, http.StatusUnauthorized},
		{"unknown provider", "user_ghost", true, http.StatusNotFound},
		{"client account", "user_c", true, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := metricsContext(tt.providerID)
			if tt.authed {
				auth.SetClaimsForTest(c, &auth.Claims{UserID: "user_c"})
			}

			err := handler.handleGetProviderMetrics(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != tt.want {
				t.Errorf("expected %d, got %v", tt.want, err)
			}
		})
	}
}
