//go:build integration

package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/asynx/internal/api"
	"github.com/dmitrymomot/asynx/pkg/broker"
	"github.com/dmitrymomot/asynx/pkg/redis"
)

const testRedisURL = "redis://localhost:6379/0"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = testRedisURL
	}

	ctx := context.Background()
	client, err := redis.Open(ctx, url)
	require.NoError(t, err, "failed to connect to Redis")
	t.Cleanup(func() {
		_ = client.FlushDB(ctx).Err()
		_ = client.Close()
	})

	server := api.NewServer(client, broker.New(client), api.WithLocation(time.UTC))
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorCode(t *testing.T, data []byte) int {
	t.Helper()

	var envelope struct {
		ErrorCode int `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	return envelope.ErrorCode
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", strings.TrimSpace(string(body)))
}

func TestInsertAndFetch(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/apps/test/taskqueues/default/tasks"

	resp, body := do(t, http.MethodPost, base, `{"request":{"url":"http://example.com/ping"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)

	var task struct {
		ID        int64   `json:"id"`
		UUID      string  `json:"uuid"`
		CName     *string `json:"cname"`
		Status    string  `json:"status"`
		ETA       *string `json:"eta"`
		Countdown *string `json:"countdown"`
		OnSuccess string  `json:"on_success"`
		OnFailure string  `json:"on_failure"`
	}
	require.NoError(t, json.Unmarshal(body, &task))
	assert.Equal(t, int64(1), task.ID)
	assert.NotEmpty(t, task.UUID)
	assert.Nil(t, task.CName)
	assert.Equal(t, "enqueued", task.Status)
	assert.Nil(t, task.ETA)
	assert.Equal(t, "__delete__", task.OnSuccess)
	assert.Equal(t, "__report__", task.OnFailure)

	// All three lookup paths resolve the same task.
	for _, ident := range []string{"1", "id:1", "uuid:" + task.UUID} {
		resp, body = do(t, http.MethodGet, base+"/"+ident, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, "ident %s", ident)
		var got struct {
			ID int64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, task.ID, got.ID)
	}
}

func TestInsertErrors(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/apps/test/taskqueues/default/tasks"

	t.Run("malformed JSON is a parse error", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, base, `{"request":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, 200100, errorCode(t, body))
	})

	t.Run("schema violation is a validation error", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, base, `{"request":{"url":"ftp://example.com/"}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, 200101, errorCode(t, body))
	})

	t.Run("schedule without cname is a validation error", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, base,
			`{"request":{"url":"http://example.com/"},"schedule":"every 60 seconds"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, 200101, errorCode(t, body))
	})

	t.Run("duplicate cname is a conflict", func(t *testing.T) {
		payload := `{"request":{"url":"http://example.com/"},"cname":"dup-name"}`
		resp, _ := do(t, http.MethodPost, base, payload)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp, body := do(t, http.MethodPost, base, payload)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, 207203, errorCode(t, body))
	})
}

func TestListTasks(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/apps/test/taskqueues/default/tasks"

	for range 3 {
		resp, _ := do(t, http.MethodPost, base, `{"request":{"url":"http://example.com/"}}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := do(t, http.MethodGet, base+"?offset=1&limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Items []struct {
			ID int64 `json:"id"`
		} `json:"items"`
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Items[0].ID)
	assert.Equal(t, int64(3), page.Items[1].ID)

	resp, body = do(t, http.MethodGet, base+"?limit=a", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, 200101, errorCode(t, body))
}

func TestGetNotFound(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/apps/test/taskqueues/default/tasks"

	cases := []string{
		"12345",
		"uuid:7c28ad63-7c12-45a1-b8b9-9c81297bc093",
		"cname:nothing-here",
		"cname:aa",                         // too short to ever exist
		"cname:" + strings.Repeat("a", 97), // too long to ever exist
		"id:9223372036854775808",           // beyond any assignable id
		"bogus-ident",
	}
	for _, ident := range cases {
		resp, body := do(t, http.MethodGet, base+"/"+ident, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "ident %s", ident)
		assert.Equal(t, 207202, errorCode(t, body))
	}
}

func TestDeleteTask(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/apps/test/taskqueues/default/tasks"

	resp, _ := do(t, http.MethodPost, base, `{"request":{"url":"http://example.com/"},"cname":"to-delete"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, http.MethodDelete, base+"/cname:to-delete", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", strings.TrimSpace(string(body)))

	resp, body = do(t, http.MethodDelete, base+"/cname:to-delete", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 207202, errorCode(t, body))
}
