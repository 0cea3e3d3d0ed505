package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"ticket-pass/internal/poller"
	"ticket-pass/models"
)

func TestMonitor_Counters(t *testing.T) {
	m := &Monitor{}

	before := testutil.ToFloat64(passAccepts.WithLabelValues("expired"))
	m.TrackAccept("expired")
	assert.Equal(t, before+1, testutil.ToFloat64(passAccepts.WithLabelValues("expired")))

	before = testutil.ToFloat64(passesIssued.WithLabelValues("barcode"))
	m.TrackIssued("barcode")
	assert.Equal(t, before+1, testutil.ToFloat64(passesIssued.WithLabelValues("barcode")))

	before = testutil.ToFloat64(statusTransitions.WithLabelValues("pending", "scanned_not_validated"))
	m.TrackTransition("pending", "scanned_not_validated")
	assert.Equal(t, before+1, testutil.ToFloat64(statusTransitions.WithLabelValues("pending", "scanned_not_validated")))
}

func TestMonitor_TrackPollOutcome(t *testing.T) {
	m := &Monitor{}

	cases := []struct {
		update  poller.Update
		outcome string
	}{
		{poller.Update{Status: models.StatusValidated, Interval: 30 * time.Second}, "validated"},
		{poller.Update{Status: models.StatusPending, Err: errors.New("timeout"), Interval: 5 * time.Second}, "error"},
		{poller.Update{Status: models.StatusPending, Err: errors.New("timeout"), Degraded: true}, "degraded"},
	}

	for _, tc := range cases {
		before := testutil.ToFloat64(statusPolls.WithLabelValues(tc.outcome))
		m.TrackPoll(tc.update)
		assert.Equal(t, before+1, testutil.ToFloat64(statusPolls.WithLabelValues(tc.outcome)), tc.outcome)
	}
}

func TestMonitor_Collect(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := &Monitor{redis: db, tracked: func() int { return 7 }}

	mock.ExpectPing().SetVal("PONG")
	m.collect(context.Background())
	assert.Equal(t, float64(1), testutil.ToFloat64(redisUp))
	assert.Equal(t, float64(7), testutil.ToFloat64(trackedTickets))

	mock.ExpectPing().SetErr(errors.New("down"))
	m.collect(context.Background())
	assert.Equal(t, float64(0), testutil.ToFloat64(redisUp))
	assert.NoError(t, mock.ExpectationsWereMet())
}
