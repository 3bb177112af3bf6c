package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emprendedores-unidos/marketplace/internal/i18n"
	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

type stubAuth map[string]*models.User

func (a stubAuth) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if user, ok := a[token]; ok {
		return user, nil
	}
	return nil, utils.NewAuthenticationError("invalid token")
}

func init() {
	gin.SetMode(gin.TestMode)
	if err := i18n.Initialize("es"); err != nil {
		panic(err)
	}
}

func perform(engine *gin.Engine, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	seller := &models.User{Email: "vende@example.com", Role: models.RoleSeller, Active: true}
	seller.ID = uuid.New()
	buyer := &models.User{Email: "compra@example.com", Role: models.RoleBuyer, Active: true}
	buyer.ID = uuid.New()
	auth := stubAuth{"seller-token": seller, "buyer-token": buyer}

	engine := gin.New()
	engine.Use(I18nMiddleware())
	engine.GET("/private", AuthRequired(auth), SellerRequired(), func(c *gin.Context) {
		id, _ := utils.GetUserIDFromContext(c)
		c.String(http.StatusOK, id)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"buyer on seller route", "Bearer buyer-token", http.StatusForbidden},
		{"seller", "Bearer seller-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Authorization", tt.header)
			}
			rec := perform(engine, header)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, seller.ID.String(), rec.Body.String())
			}
		})
	}
}

func TestNegotiateLanguage(t *testing.T) {
	assert.Equal(t, "en", negotiateLanguage("en-US,en;q=0.9"))
	assert.Equal(t, "es", negotiateLanguage("es-CO,es;q=0.9,en;q=0.8"))
	assert.Equal(t, "en", negotiateLanguage("fr-FR, en_GB;q=0.5"))
	assert.Equal(t, "es", negotiateLanguage("de"))
	assert.Equal(t, "es", negotiateLanguage(""))
}

func TestRateLimiterRejectsOverBurst(t *testing.T) {
	limiter := PerMinute(2)
	defer limiter.Stop()

	engine := gin.New()
	engine.GET("/private", limiter.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, perform(engine, nil).Code)
	assert.Equal(t, http.StatusNoContent, perform(engine, nil).Code)

	rec := perform(engine, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestRateLimiterStop(t *testing.T) {
	limiter := PerSecond(10, 10)
	limiter.Stop()
	limiter.Stop()

	select {
	case <-limiter.done:
	default:
		t.Fatal("cleanup loop still running after Stop")
	}
}
