package convert

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStatusIsTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusPending.IsTerminal())
	require.False(t, StatusProcessing.IsTerminal())
	require.True(t, StatusCompleted.IsTerminal())
	require.True(t, StatusFailed.IsTerminal())
	require.False(t, JobStatus("SUCCESS").IsTerminal())
}

func TestJobStatusKnown(t *testing.T) {
	t.Parallel()

	for _, s := range []JobStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		require.True(t, s.Known(), s)
	}
	require.False(t, JobStatus("").Known())
	require.False(t, JobStatus("processing").Known())
}

func TestUpdateForOnlyCarriesFileNameWhenCompleted(t *testing.T) {
	t.Parallel()

	job := Job{ID: "abc123", Status: StatusProcessing, FileName: "stale.pdf"}
	require.Equal(t, Update{TaskID: "abc123", Status: StatusProcessing}, UpdateFor(job))

	job.Status = StatusCompleted
	job.FileName = "out.docx"
	require.Equal(t, Update{TaskID: "abc123", Status: StatusCompleted, FileName: "out.docx"}, UpdateFor(job))
}

func TestUpdateAttributes(t *testing.T) {
	t.Parallel()

	require.Equal(t, map[string]string{"task_id": "abc123", "status": "PROCESSING"},
		Update{TaskID: "abc123", Status: StatusProcessing}.Attributes())
	require.Equal(t, map[string]string{"task_id": "abc123", "status": "COMPLETED", "file_name": "out.docx"},
		Update{TaskID: "abc123", Status: StatusCompleted, FileName: "out.docx"}.Attributes())
}
