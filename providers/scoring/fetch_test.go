package scoring

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-scout/config"
)

func scoringFetcher(baseURL string) *Fetcher {
	return NewFetcher(&config.Config{ScoringBaseURL: baseURL}, zap.NewNop())
}

func TestGetScoreEncodesTitleAndAbstract(t *testing.T) {
	// "An abstract?" ergibt base64 mit "/"; ohne Pfad-Escaping zerfiele der
	// Request-Pfad in mehr als zwei Segmente.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/"), "/")
		require.Len(t, parts, 2)

		titleB64, err := url.PathUnescape(parts[0])
		require.NoError(t, err)
		abstractB64, err := url.PathUnescape(parts[1])
		require.NoError(t, err)

		title, err := base64.StdEncoding.DecodeString(titleB64)
		require.NoError(t, err)
		abstract, err := base64.StdEncoding.DecodeString(abstractB64)
		require.NoError(t, err)
		assert.Equal(t, "A Title / With Slashes", string(title))
		assert.Equal(t, "An abstract?", string(abstract))

		fmt.Fprint(w, `{"score": 0.73}`)
	}))
	defer srv.Close()

	score, err := scoringFetcher(srv.URL).GetScore(context.Background(), "A Title / With Slashes", "An abstract?")
	require.NoError(t, err)
	assert.InDelta(t, 0.73, score, 1e-9)
}

func TestGetScoreAcceptsStringValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"score": "0.5"}`)
	}))
	defer srv.Close()

	score, err := scoringFetcher(srv.URL).GetScore(context.Background(), "t", "a")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestGetScoreErrorClasses(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "missing score field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"result": 1}`)
			},
			wantErr: ErrBadShape,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<html>error page</html>`)
			},
			wantErr: ErrBadShape,
		},
		{
			name: "non numeric string",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"score": "n/a"}`)
			},
			wantErr: ErrMalformed,
		},
		{
			name: "unexpected value type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"score": [1, 2]}`)
			},
			wantErr: ErrMalformed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := scoringFetcher(srv.URL).GetScore(context.Background(), "t", "a")
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestGetScoreNonSuccessStatusIsTransportLevel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := scoringFetcher(srv.URL).GetScore(context.Background(), "t", "a")
	require.Error(t, err)
	// Keiner der beiden Antwort-Fehlerklassen zugeordnet; der aufrufende
	// Service protokolliert das als transport_failure.
	assert.NotErrorIs(t, err, ErrBadShape)
	assert.NotErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "status 500")
}
