package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmod/flowmod/pkg/persistence/file"
	"github.com/flowmod/flowmod/pkg/testutil"
)

func setupTestApp(t *testing.T) *API {
	t.Helper()

	return NewAPI(testutil.Logger(), file.NewPersistence(t.TempDir()), nil, 0)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t).App()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Flowmod API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	app := setupTestApp(t).App()

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t).App()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_ListWorkflowsEmpty(t *testing.T) {
	app := setupTestApp(t).App()

	req := httptest.NewRequest(http.MethodGet, "/workflows/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
