package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/domain/model"
	"github.com/proofwork/proofwork/internal/mocks"
)

func newGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(NewChecker(nil, nil), nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_Verify(t *testing.T) {
	srv := newGatewayServer(t)

	body, err := json.Marshal(verifyRequest(screenshotAndVideo, artifact("screenshot")))
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+VerifyPath, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out model.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "fail", out.Verdict)
	assert.Equal(t, "missing_required_artifacts:video", out.Reason)
}

func TestHandler_RejectsBadRequests(t *testing.T) {
	srv := newGatewayServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{`},
		{name: "missing ids", body: `{"attemptNo":1}`},
		{name: "unknown field", body: `{"verificationId":"v","submissionId":"s","bogus":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+VerifyPath, "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHandler_VerifierError(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockVerifierGateway(ctrl)
	verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil, errors.New("model offline"))

	mux := http.NewServeMux()
	NewHandler(verifier, nil).Register(mux)

	body, err := json.Marshal(verifyRequest(screenshotAndVideo))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, VerifyPath, bytes.NewReader(body)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// The client and the reference handler speak the same contract end to end.
func TestClientAgainstHandler(t *testing.T) {
	srv := newGatewayServer(t)
	client, err := NewClient(context.Background(), ClientOptions{Config: config.GatewayConfig{URL: srv.URL}})
	require.NoError(t, err)

	resp, err := client.Verify(context.Background(), verifyRequest(screenshotAndVideo, artifact("video"), artifact("screenshot")))
	require.NoError(t, err)
	rec, err := resp.Record()
	require.NoError(t, err)
	assert.Equal(t, model.VerdictPass, rec.Verdict)
}
