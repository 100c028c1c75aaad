package imagegen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(ts *httptest.Server) *ReplicateClient {
	return NewReplicateClient(Options{
		BaseURL:      ts.URL,
		APIToken:     "r8_test",
		HTTPClient:   ts.Client(),
		PollInterval: time.Millisecond,
	})
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "A TOK emoji of a happy cat", BuildPrompt("a happy cat"))
	assert.Equal(t, "A TOK emoji of taco", BuildPrompt("  taco "))
}

func TestGenerate_ImmediateSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predictions", r.URL.Path)
		assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))
		assert.Equal(t, "wait", r.Header.Get("Prefer"))

		var body predictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModelVersion, body.Version)
		assert.Equal(t, "A TOK emoji of a happy cat", body.Input.Prompt)
		assert.Equal(t, 1024, body.Input.Width)
		assert.Equal(t, 1024, body.Input.Height)
		assert.False(t, body.Input.ApplyWatermark)

		fmt.Fprint(w, `{"id":"p1","status":"succeeded","output":["https://replicate.delivery/out-0.png","https://replicate.delivery/out-1.png"]}`)
	}))
	defer ts.Close()

	url, err := newTestClient(ts).Generate(context.Background(), "a happy cat")
	require.NoError(t, err)
	assert.Equal(t, "https://replicate.delivery/out-0.png", url)
}

func TestGenerate_StringOutput(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"p1","status":"succeeded","output":"https://replicate.delivery/single.png"}`)
	}))
	defer ts.Close()

	url, err := newTestClient(ts).Generate(context.Background(), "taco")
	require.NoError(t, err)
	assert.Equal(t, "https://replicate.delivery/single.png", url)
}

func TestGenerate_PollsUntilSucceeded(t *testing.T) {
	var polls atomic.Int32
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			fmt.Fprintf(w, `{"id":"p1","status":"starting","urls":{"get":"%s/predictions/p1"}}`, ts.URL)
		case r.URL.Path == "/predictions/p1":
			assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))
			n := polls.Add(1)
			switch {
			case n == 1:
				// transient failure is retried
				w.WriteHeader(http.StatusBadGateway)
			case n < 4:
				fmt.Fprint(w, `{"id":"p1","status":"processing"}`)
			default:
				fmt.Fprint(w, `{"id":"p1","status":"succeeded","output":["https://replicate.delivery/done.png"]}`)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	url, err := newTestClient(ts).Generate(context.Background(), "rocket")
	require.NoError(t, err)
	assert.Equal(t, "https://replicate.delivery/done.png", url)
	assert.Equal(t, int32(4), polls.Load())
}

func TestGenerate_PollFallsBackToPredictionID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"id":"abc","status":"processing"}`)
			return
		}
		assert.Equal(t, "/predictions/abc", r.URL.Path)
		fmt.Fprint(w, `{"id":"abc","status":"succeeded","output":"https://replicate.delivery/abc.png"}`)
	}))
	defer ts.Close()

	url, err := newTestClient(ts).Generate(context.Background(), "pizza")
	require.NoError(t, err)
	assert.Equal(t, "https://replicate.delivery/abc.png", url)
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name:    "prediction failed",
			status:  http.StatusCreated,
			body:    `{"id":"p1","status":"failed","error":"NSFW content detected"}`,
			wantErr: "NSFW content detected",
		},
		{
			name:    "prediction canceled",
			status:  http.StatusCreated,
			body:    `{"id":"p1","status":"canceled"}`,
			wantErr: "canceled",
		},
		{
			name:    "empty output",
			status:  http.StatusCreated,
			body:    `{"id":"p1","status":"succeeded","output":[]}`,
			wantErr: ErrEmptyOutput.Error(),
		},
		{
			name:    "unauthorized",
			status:  http.StatusUnauthorized,
			body:    `{"detail":"Invalid token."}`,
			wantErr: "Invalid token.",
		},
		{
			name:    "invalid json",
			status:  http.StatusCreated,
			body:    `not json`,
			wantErr: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer ts.Close()

			_, err := newTestClient(ts).Generate(context.Background(), "cat")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGenerate_CreateIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := newTestClient(ts).Generate(context.Background(), "cat")
	assert.ErrorContains(t, err, "http 503")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"slow","status":"processing"}`)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(ts).Generate(ctx, "cat")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerate_MissingToken(t *testing.T) {
	client := NewReplicateClient(Options{})
	_, err := client.Generate(context.Background(), "cat")
	assert.ErrorContains(t, err, "API token is missing")
}
