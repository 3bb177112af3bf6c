package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestGetPaginationParams(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/v1/orders/mine?page=0&limit=500&order=sideways&status=paid", nil)

	params := GetPaginationParams(c)
	assert.Equal(t, 1, params.Page)
	assert.Equal(t, maxPageSize, params.Limit)
	assert.Equal(t, "desc", params.Order)
	assert.Equal(t, "paid", params.Status)
	assert.Equal(t, "created_at", params.Sort)
}

func TestCreatePaginationResult(t *testing.T) {
	result := CreatePaginationResult([]string{"a"}, 41, PaginationParams{Page: 2, Limit: 20})
	assert.Equal(t, 3, result.TotalPages)
	assert.Equal(t, int64(41), result.Total)

	empty := CreatePaginationResult(nil, 0, PaginationParams{Page: 1, Limit: 20})
	assert.Equal(t, 0, empty.TotalPages)
}
