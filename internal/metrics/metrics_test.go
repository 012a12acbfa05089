package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, httpRequestsTotal)
	require.NotNil(t, conversionsTotal)
	require.NotNil(t, websocketSubscribers)
}

func TestObserveConversion(t *testing.T) {
	Init()
	counter := conversionsTotal.WithLabelValues("pdf_to_docx", "COMPLETED")
	before := testutil.ToFloat64(counter)

	ObserveConversion("pdf_to_docx", "COMPLETED", 250*time.Millisecond)

	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestObserveUploadCountsBytes(t *testing.T) {
	Init()
	before := testutil.ToFloat64(uploadBytesTotal)
	accepted := uploadsTotal.WithLabelValues("unknown", "rejected")
	acceptedBefore := testutil.ToFloat64(accepted)

	ObserveUpload("", "rejected", 0)
	ObserveUpload("docx_to_pdf", "accepted", 512)

	require.Equal(t, acceptedBefore+1, testutil.ToFloat64(accepted))
	require.Equal(t, before+512, testutil.ToFloat64(uploadBytesTotal))
}

func TestGaugesAndNotifications(t *testing.T) {
	Init()
	SetSubscribers(3)
	require.Equal(t, float64(3), testutil.ToFloat64(websocketSubscribers))

	workersBefore := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	require.Equal(t, workersBefore+1, testutil.ToFloat64(activeWorkers))
	DecActiveWorkers()
	require.Equal(t, workersBefore, testutil.ToFloat64(activeWorkers))

	failed := notificationsDeliveredTotal.WithLabelValues("redis", "error")
	failedBefore := testutil.ToFloat64(failed)
	ObserveNotification("redis", errors.New("down"))
	require.Equal(t, failedBefore+1, testutil.ToFloat64(failed))

	droppedBefore := testutil.ToFloat64(notificationsDroppedTotal)
	ObserveDroppedNotification()
	require.Equal(t, droppedBefore+1, testutil.ToFloat64(notificationsDroppedTotal))
}
