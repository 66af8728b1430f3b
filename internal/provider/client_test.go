package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/digkill/TGMediaGen/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "test-key"}, logger.New())
}

func TestClient_CreateTask(t *testing.T) {
	var gotAuth, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(`{"code":200,"data":{"taskId":"task-99"}}`))
	})

	taskID, err := client.CreateTask(context.Background(), "flux-2/std-text-to-image", map[string]any{"prompt": "a cat"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if taskID != "task-99" {
		t.Errorf("taskID = %q, want task-99", taskID)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/api/v1/jobs/createTask" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestClient_CreateTask_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":422,"msg":"prompt rejected"}`))
	})

	_, err := client.CreateTask(context.Background(), "m", nil)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestClient_CreateTask_ServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.CreateTask(context.Background(), "m", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestClient_CreateTask_RateLimitIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	_, err := client.CreateTask(context.Background(), "m", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestClient_TaskStatus(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantDone bool
		wantURLs []string
		wantErr  error
	}{
		{
			name:     "pending",
			body:     `{"code":200,"data":{"state":"generating"}}`,
			wantDone: false,
		},
		{
			name:     "success",
			body:     `{"code":200,"data":{"state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/a.png\"]}"}}`,
			wantDone: true,
			wantURLs: []string{"https://cdn/a.png"},
		},
		{
			name:     "success keeps every url",
			body:     `{"code":200,"data":{"state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/a.png\",\"https://cdn/b.png\"]}"}}`,
			wantDone: true,
			wantURLs: []string{"https://cdn/a.png", "https://cdn/b.png"},
		},
		{
			name:    "fail is terminal",
			body:    `{"code":200,"data":{"state":"fail","failMsg":"nsfw content","failCode":"400"}}`,
			wantErr: ErrRejected,
		},
		{
			name:    "success without urls",
			body:    `{"code":200,"data":{"state":"success","resultJson":"{}"}}`,
			wantErr: ErrRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("taskId") != "t1" {
					t.Errorf("missing taskId query, got %q", r.URL.RawQuery)
				}
				w.Write([]byte(tt.body))
			})

			status, err := client.TaskStatus(context.Background(), "t1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("TaskStatus: %v", err)
			}
			if status.Done != tt.wantDone || !reflect.DeepEqual(status.ArtifactURLs, tt.wantURLs) {
				t.Errorf("status = %+v, want urls %v", status, tt.wantURLs)
			}
		})
	}
}

func TestClient_Download(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("binary-bytes"))
	})

	data, err := client.Download(context.Background(), client.cfg.BaseURL+"/file.png")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "binary-bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestSignedToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	raw, err := signedToken("ak-123", "secret", now)
	if err != nil {
		t.Fatalf("signedToken: %v", err)
	}

	parsed, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != "HS256" {
			t.Errorf("alg = %s, want HS256", token.Method.Alg())
		}
		return []byte("secret"), nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}

	claims := parsed.Claims.(jwt.MapClaims)
	if claims["iss"] != "ak-123" {
		t.Errorf("iss = %v", claims["iss"])
	}
	if int64(claims["exp"].(float64))-now.Unix() != 30*60 {
		t.Errorf("exp offset = %v", int64(claims["exp"].(float64))-now.Unix())
	}
	if now.Unix()-int64(claims["nbf"].(float64)) != 5 {
		t.Errorf("nbf offset = %v", now.Unix()-int64(claims["nbf"].(float64)))
	}
}

func TestParseCallback(t *testing.T) {
	t.Run("success payload", func(t *testing.T) {
		payload := []byte(`{"code":200,"data":{"taskId":"t1","state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/x.mp3\"]}"}}`)
		status, err := parseCallback(payload)
		if err != nil {
			t.Fatalf("parseCallback: %v", err)
		}
		if !status.Done || !reflect.DeepEqual(status.ArtifactURLs, []string{"https://cdn/x.mp3"}) {
			t.Errorf("status = %+v", status)
		}
	})

	t.Run("failure payload", func(t *testing.T) {
		payload := []byte(`{"code":200,"data":{"taskId":"t1","state":"fail","failCode":"501","failMsg":"render error"}}`)
		_, err := parseCallback(payload)
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("err = %v, want ErrRejected", err)
		}
	})

	t.Run("still running counts as pending", func(t *testing.T) {
		payload := []byte(`{"code":200,"data":{"taskId":"t1","state":"generating"}}`)
		status, err := parseCallback(payload)
		if err != nil {
			t.Fatalf("parseCallback: %v", err)
		}
		if status.Done {
			t.Error("pending payload reported done")
		}
	})

	t.Run("garbage payload", func(t *testing.T) {
		if _, err := parseCallback([]byte("not json")); !errors.Is(err, ErrRejected) {
			t.Fatalf("err = %v, want ErrRejected", err)
		}
	})
}
