package saferoute

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/common"
	"github.com/evanhutnik/saferoute-service/internal/events"
	"github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const body = `{"origin":{"lat":35.6812,"lng":139.7671},"destination":{"lat":35.6902,"lng":139.7671}}`

func testService(f fixture) *Service {
	return NewService(f.build(), HTTPOptions{RequestTimeout: 5 * time.Second}, zap.NewNop().Sugar())
}

func post(s *Service, path, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	testService(fixture{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRoutesHandler(t *testing.T) {
	rec := post(testService(fixture{}), "/v1/routes", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RouteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), resp.RequestID)
	assert.Equal(t, types.ModeNormal, resp.Mode)
	require.Len(t, resp.Routes, 1)
	assert.Equal(t, 100.0, resp.Routes[0].SafetyScore)
	assert.Equal(t, []string{}, resp.Routes[0].Warnings)
	require.NotNil(t, resp.RiskAssessment)
	assert.Equal(t, types.RiskLow, resp.RiskAssessment.Level)
	assert.False(t, resp.RiskAssessment.BelowThreshold)
	assert.NotEmpty(t, resp.Narrative)
	assert.NotEmpty(t, resp.ThinkingProcessLog)
	assert.Nil(t, resp.Error)
}

func TestRoutesHandlerRejectsBadRequests(t *testing.T) {
	s := testService(fixture{})
	for name, payload := range map[string]string{
		"not json":       `origin=tokyo`,
		"missing origin": `{"destination":"Kanda"}`,
		"bad mode":       `{"origin":"a","destination":"b","mode":"FAST"}`,
		"bad override":   `{"origin":"a","destination":"b","alertTypeOverride":"ALIENS"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(s, "/v1/routes", payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp RouteResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, common.CodeInvalidRequest, resp.Error.Code)
		})
	}
}

func TestRoutesHandlerProviderDown(t *testing.T) {
	down := routerFunc(func(_ context.Context, _, _ types.Coordinate, _ []types.Coordinate, _ int) ([]types.CandidateRoute, error) {
		return nil, errors.New("timeout")
	})
	rec := post(testService(fixture{router: down}), "/v1/routes", body)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), common.CodeRouteProviderUnavailable)
}

func TestStreamHandler(t *testing.T) {
	rec := post(testService(fixture{}), "/v1/routes/stream", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.NotEmpty(t, frames)
	assert.True(t, strings.HasPrefix(frames[0], "event: agent_status\n"))
	last := frames[len(frames)-1]
	require.True(t, strings.HasPrefix(last, "event: result\ndata: "), last)

	var envelope struct {
		Type string        `json:"type"`
		Data RouteResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(last, "event: result\ndata: ")), &envelope))
	assert.Equal(t, "result", envelope.Type)
	assert.Equal(t, "Chuo-dori", envelope.Data.Routes[0].Summary)
	assert.Contains(t, rec.Body.String(), "event: candidate_routes\n")
	assert.Contains(t, rec.Body.String(), "event: sampling_points\n")
}

func TestStreamHandlerEndsWithErrorEvent(t *testing.T) {
	down := routerFunc(func(_ context.Context, _, _ types.Coordinate, _ []types.Coordinate, _ int) ([]types.CandidateRoute, error) {
		return nil, errors.New("timeout")
	})
	rec := post(testService(fixture{router: down}), "/v1/routes/stream", body)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	last := frames[len(frames)-1]
	assert.True(t, strings.HasPrefix(last, "event: error\n"), last)
	assert.Contains(t, last, common.CodeRouteProviderUnavailable)
}

func TestRelayReplacesUnwritableResult(t *testing.T) {
	q := events.NewQueue()
	q.Publish(events.Status{Agent: events.AgentNarrator, Message: "writing"})
	// a result with no data fails validation
	q.Publish(events.Result{})
	q.Close()

	rec := httptest.NewRecorder()
	testService(fixture{}).relay(context.Background(), rec, q, "req-1")

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, frames, 2)
	assert.True(t, strings.HasPrefix(frames[0], "event: status\n"), frames[0])
	assert.True(t, strings.HasPrefix(frames[1], "event: error\n"), frames[1])
	assert.Contains(t, frames[1], common.CodeInternal)
	assert.NotContains(t, rec.Body.String(), "event: result")
}

func TestRelayStopsAfterTerminalEvent(t *testing.T) {
	q := events.NewQueue()
	defer q.Close()
	q.Publish(events.Error{Code: common.CodeInternal, Message: "boom"})
	q.Publish(events.Status{Agent: events.AgentNarrator, Message: "late"})

	rec := httptest.NewRecorder()
	testService(fixture{}).relay(context.Background(), rec, q, "req-2")

	assert.Contains(t, rec.Body.String(), "event: error\n")
	assert.NotContains(t, rec.Body.String(), "late")
}
