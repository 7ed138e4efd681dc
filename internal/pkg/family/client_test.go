package family

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/familring/album-service/internal/pkg/upstream"
)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(upstream.NewClient(upstream.Config{
		Name:     "family-service",
		BaseURL:  server.URL,
		Timeout:  time.Second,
		Attempts: 1,
	}))
}

func TestGetFamilyID(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/client/family" || r.URL.Query().Get("user_id") != "11" || r.Header.Get("X-User-ID") != "11" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"statusCode":200,"message":"ok","data":{"familyId":3,"familyCode":"ABCD","familyCount":4}}`))
	})

	familyID, err := client.GetFamilyID(context.Background(), 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if familyID != 3 {
		t.Fatalf("expected family 3, got %d", familyID)
	}
}

func TestGetFamilyIDNotInFamily(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if _, err := client.GetFamilyID(context.Background(), 11); !errors.Is(err, ErrNoFamily) {
		t.Fatalf("expected ErrNoFamily, got %v", err)
	}
}

func TestGetFamilyIDUpstreamFailure(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetFamilyID(context.Background(), 11)
	if !errors.Is(err, upstream.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if errors.Is(err, ErrNoFamily) {
		t.Fatal("server error must not be reported as missing family")
	}
}

func TestGetFamilyMembers(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/client/family/members" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"statusCode":200,"message":"ok","data":[
			{"userId":1,"userNickname":"mom","userFace":"https://cdn/face/1.jpg","userZodiacSign":"rabbit"},
			{"userId":2,"userNickname":"kid","userFace":""}
		]}`))
	})

	members, err := client.GetFamilyMembers(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0].FaceSignature != "https://cdn/face/1.jpg" || members[0].Nickname != "mom" || members[0].ZodiacSign != "rabbit" {
		t.Fatalf("unexpected member: %+v", members[0])
	}
}
