package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTranscribe verifies the multipart upload and response parsing.
func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "RIFFdata", string(data))
		assert.Equal(t, "audio.wav", header.Filename)
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		_, _ = w.Write([]byte(`{"text":"  book a table  "}`))
	}))
	defer srv.Close()

	text, err := NewOpenAI("key", WithBaseURL(srv.URL)).Transcribe(context.Background(), []byte("RIFFdata"), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, "book a table", text)
}

// TestSynthesize verifies the JSON request and the returned audio.
func TestSynthesize(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	client := NewOpenAI("key", WithBaseURL(srv.URL), WithVoice("alloy"), WithModels("", "tts-1-hd"))

	audio, mime, err := client.Synthesize(context.Background(), "Hello", "shimmer")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3audio"), audio)
	assert.Equal(t, "audio/mpeg", mime)
	assert.Equal(t, "shimmer", body["voice"])
	assert.Equal(t, "tts-1-hd", body["model"])
	assert.Equal(t, "Hello", body["input"])

	_, _, err = client.Synthesize(context.Background(), "Hello", "robot")
	require.NoError(t, err)
	assert.Equal(t, "alloy", body["voice"])
}

// TestAPIError verifies error decoding.
func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI("nope", WithBaseURL(srv.URL)).Transcribe(context.Background(), []byte("x"), "audio/webm")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "bad key", apiErr.Message)
}

// TestVoices verifies voice validation and the default.
func TestVoices(t *testing.T) {
	assert.True(t, IsVoice("nova"))
	assert.False(t, IsVoice("Nova"))
	assert.Equal(t, DefaultVoice, NewOpenAI("k", WithVoice("robot")).Voice())
	assert.Equal(t, "echo", NewOpenAI("k", WithVoice("echo")).Voice())
}

// TestExtension verifies MIME type mapping including codec parameters.
func TestExtension(t *testing.T) {
	assert.Equal(t, "webm", extension("audio/webm;codecs=opus"))
	assert.Equal(t, "ogg", extension("audio/ogg; codecs=opus"))
	assert.Equal(t, "wav", extension("audio/wav"))
	assert.Equal(t, "m4a", extension("audio/mp4"))
	assert.Equal(t, "webm", extension(""))
}
