package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simrigs/rig-commander/pkg/model"
)

func TestClientFetchPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/device/dev-1/commands", r.URL.Path)
			assert.Equal(t, "pending", r.URL.Query().Get("status"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"commands": []map[string]any{
					{"id": "c1", "action": "reset_car", "status": "pending"},
					{"id": "c2", "action": "enter_car", "status": "pending"},
				},
			})
		}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev-1")
	cmds, err := client.FetchPending(context.Background())
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "c1", cmds[0].ID)
	assert.Equal(t, model.ActionEnterCar, cmds[1].Action)
}

func TestClientFetchPendingNotRolledOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev-1")
	cmds, err := client.FetchPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestClientFetchPendingServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev-1")
	_, err := client.FetchPending(context.Background())
	assert.Error(t, err)
}

func TestClientMarkComplete(t *testing.T) {
	var got struct {
		Status       model.CommandStatus `json:"status"`
		Result       *model.Result       `json:"result"`
		ErrorMessage string              `json:"error_message"`
	}
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/device/dev-1/commands/c1/complete", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev-1")
	res := model.Fail(model.KindNoBinding, "no key binding for reset_car")
	err := client.MarkComplete(context.Background(), "c1", model.StatusFailed, res)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, model.KindNoBinding, got.Result.Kind)
	assert.Equal(t, "no key binding for reset_car", got.ErrorMessage)
}

func TestClientPushState(t *testing.T) {
	var got model.DerivedState
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/device/dev-1/state", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusNoContent)
		}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev-1")
	err := client.PushState(context.Background(), &model.DerivedState{
		InCar: true, TrackName: "spa",
	})
	require.NoError(t, err)
	assert.True(t, got.InCar)
	assert.Equal(t, "spa", got.TrackName)
}
