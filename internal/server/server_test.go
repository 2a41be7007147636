package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type routeHandler struct{ path string }

func (h *routeHandler) Register(e *echo.Echo) {
	e.GET(h.path, func(c echo.Context) error {
		return c.String(http.StatusOK, h.path)
	})
}

func TestNewServer_RegistersAllHandlers(t *testing.T) {
	srv := NewServer(nil, "", "", []Handler{
		&routeHandler{path: "/a"},
		nil,
		&routeHandler{path: "/b"},
	})

	for _, path := range []string{"/a", "/b"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, path, rec.Body.String())
	}
}

func TestNewServer_DefaultAddr(t *testing.T) {
	srv := NewServer(nil, "", "", nil)
	require.Equal(t, ":8080", srv.addr)
}
