package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"

	"rteSync/backend/internal/collab"
	"rteSync/backend/internal/crdt"
)

type failingStore struct{}

func (failingStore) AppendUpdate(context.Context, string, string, []byte) (string, error) {
	return "", nil
}

func (failingStore) LoadUpdates(context.Context, string) ([][]byte, string, error) {
	return nil, "", errors.New("connection refused")
}

func (failingStore) CompactUpdates(context.Context, string, string, []byte) error { return nil }

func newRouter(svc collab.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewRoomHandler(svc)
	r.GET("/collab/rooms/:roomID", h.GetRoom())
	r.GET("/collab/healthz", Healthz)
	return r
}

func TestGetRoom(t *testing.T) {
	svc := collab.NewInMemoryService(collab.Options{})
	client := crdt.NewDoc()
	var update []byte
	client.OnUpdate(func(u []byte, _ any) { update = u })
	_ = client.Text().Insert(0, "你好 go", nil)
	if _, err := svc.Apply(context.Background(), "r1", "c1", update); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/collab/rooms/r1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		RoomID      string `json:"roomId"`
		Text        string `json:"text"`
		Length      int    `json:"length"`
		StateVector []byte `json:"stateVector"`
	}
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "r1", body.RoomID)
	assert.Equal(t, "你好 go", body.Text)
	assert.Equal(t, 5, body.Length)
	assert.Equal(t, client.EncodeStateVector(), body.StateVector)
}

func TestGetRoom_StoreUnavailable(t *testing.T) {
	svc := collab.NewInMemoryService(collab.Options{Store: failingStore{}})
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/collab/rooms/r1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(collab.NewInMemoryService(collab.Options{})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/collab/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"status":"ok"}`, w.Body.String())
}
