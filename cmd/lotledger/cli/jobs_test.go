package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/lotledger/jobs"
)

func TestBuildTaskLotValuation(t *testing.T) {
	task, err := BuildTask(jobs.TaskLotValuation, time.Date(2024, 7, 9, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLotValuation, task.Type())

	var payload jobs.LotValuationPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "2024-07-09", payload.AsOf)
}

func TestBuildTaskRejectsUnknownJob(t *testing.T) {
	_, err := BuildTask("pricing:recalculate-everything", time.Time{})
	require.Error(t, err)
}

func TestNilCLIRefuses(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskLotValuation, time.Time{})
	require.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)
}
