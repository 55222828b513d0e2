package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRequest(t *testing.T) {
	e := echo.New()
	e.GET("/ok", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"name": "widget-a"})
	})
	e.GET("/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, DoRequest(context.Background(), http.MethodGet, srv.URL+"/ok", nil, nil, &out))
	assert.Equal(t, "widget-a", out.Name)

	err := DoRequest(context.Background(), http.MethodGet, srv.URL+"/missing", nil, nil, &out)
	assert.EqualError(t, err, "job not found")
}

func TestDoRequestPlainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := DoRequest(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	assert.EqualError(t, err, "http status: 502: boom")
}
