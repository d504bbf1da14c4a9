package common

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/middleware"
	"github.com/tendant/immigration-portal/pkg/domain"
)

func TestClient_CarriesRequestTenant(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/auth/mfa/verify", nil)
	req.Header.Set("User-Agent", "portal-test")
	if c := Client(req); c.Tenant != nil || c.UserAgent != "portal-test" {
		t.Errorf("Client() without tenant = %+v", c)
	}

	tenant := &domain.Tenant{ID: uuid.New(), Domain: "maple"}
	req = req.WithContext(middleware.WithRequestTenant(req.Context(), tenant))
	if c := Client(req); c.Tenant == nil || *c.Tenant != tenant.ID {
		t.Errorf("Client().Tenant = %v, want %s", c.Tenant, tenant.ID)
	}
}
