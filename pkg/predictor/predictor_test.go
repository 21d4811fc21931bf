package predictor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictZeroShotPollsUntilCompleted(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/predict_zero_shot_async":
			json.NewEncoder(w).Encode(submitResponse{TaskID: "t1", Status: "pending"})
		case r.URL.Path == "/api/v1/prediction_status/t1":
			polls++
			if polls < 2 {
				json.NewEncoder(w).Encode(statusResponse{Status: StatusRunning})
				return
			}
			json.NewEncoder(w).Encode(statusResponse{Status: StatusCompleted, Result: &Result{
				ForecastValues: []float64{1.5},
				ModelName:      "chronos",
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithPolling(time.Millisecond, 10))
	result, err := c.PredictZeroShot(context.Background(), Request{
		Timestamps:    []time.Time{time.Now()},
		Values:        []float64{1.0},
		ForecastUntil: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, result.ForecastValues)
	assert.Equal(t, 2, polls)
}

func TestPredictZeroShotFailedTaskReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(submitResponse{TaskID: "t1", Status: "pending"})
		default:
			json.NewEncoder(w).Encode(statusResponse{Status: StatusFailed, Error: "model unavailable"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithPolling(time.Millisecond, 10))
	_, err := c.PredictZeroShot(context.Background(), Request{})
	assert.Error(t, err)
}

func TestPredictZeroShotExhaustsPollBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(submitResponse{TaskID: "t1", Status: "pending"})
		default:
			json.NewEncoder(w).Encode(statusResponse{Status: StatusRunning})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithPolling(time.Millisecond, 3))
	_, err := c.PredictZeroShot(context.Background(), Request{})
	require.Error(t, err)
}

func TestScaleParamsRoundTrip(t *testing.T) {
	values := []float64{10, 20, 30, 15}
	p := NewScaleParams(values)
	scaled := p.ScaleAll(values)
	for _, s := range scaled {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1_000_000.0)
	}
	restored := p.UnscaleAll(scaled)
	for i, v := range values {
		assert.InDelta(t, v, restored[i], 1e-6)
	}
}

func TestScaleParamsConstantHistoryAvoidsDivideByZero(t *testing.T) {
	p := NewScaleParams([]float64{5, 5, 5})
	assert.NotPanics(t, func() { p.Scale(5) })
}
