package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, time.Second, zerolog.Nop())
}

func TestClient_Auth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "bot@example.com", body["login"])
		assert.Equal(t, "secret", body["security_key"])

		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
	})

	token, err := c.Auth(context.Background(), "bot@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestClient_Auth_EmptyToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})

	_, err := c.Auth(context.Background(), "bot", "key")
	assert.Error(t, err)
}

func TestClient_Catalog(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/catalogs/77", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(Catalog{Items: []CatalogItem{
			{ItemID: 1, Values: []string{"Cafe Pushkin", "Moscow"}},
			{ItemID: 2, Values: []string{"Teremok", "SPb"}},
		}})
	})

	catalog, err := c.Catalog(context.Background(), "tok", 77)
	require.NoError(t, err)
	require.Len(t, catalog.Items, 2)
	assert.Equal(t, "Teremok", catalog.Items[1].Values[0])
}

func TestClient_TaskFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/42", r.URL.Path)
		w.Write([]byte(`{"task":{"fields":[{"id":5,"name":"INN","type":"text","value":"7701234567"}]}}`))
	})

	fields, err := c.TaskFields(context.Background(), "tok", 42)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, int64(5), fields[0].ID)
	assert.Equal(t, "INN", fields[0].Name)
}

func TestClient_Register(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forms/100/register", r.URL.Path)
		assert.Equal(t, "y", r.URL.Query().Get("include_archived"))
		assert.Equal(t, "9", r.URL.Query().Get("field_ids"))

		w.Write([]byte(`{"tasks":[{"id":500,"fields":[{"id":9,"value":"Teremok"}]}]}`))
	})

	tasks, err := c.Register(context.Background(), "tok", 100, 9)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(500), tasks[0].ID)
	assert.Equal(t, "Teremok", FieldValueString(tasks[0].Fields[0].Value))
}

func TestClient_NonOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	_, err := c.Catalog(context.Background(), "tok", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestFieldValueString(t *testing.T) {
	assert.Equal(t, "plain", FieldValueString(json.RawMessage(`"plain"`)))
	assert.Equal(t, `{"item_id":3}`, FieldValueString(json.RawMessage(`{"item_id":3}`)))
	assert.Equal(t, "", FieldValueString(nil))
}

func TestTask_Accessors(t *testing.T) {
	task := &Task{}
	assert.Nil(t, task.LastComment())
	assert.Nil(t, task.LastAttachment())

	task.Comments = []Comment{{Text: "a"}, {Text: "b"}}
	task.Attachments = []Attachment{{URL: "u1"}, {URL: "u2"}}
	assert.Equal(t, "b", task.LastComment().Text)
	assert.Equal(t, "u2", task.LastAttachment().URL)

	assert.False(t, Author{}.IsStaff())
	assert.True(t, Author{Position: "engineer"}.IsStaff())
}
