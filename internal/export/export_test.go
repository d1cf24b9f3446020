package export

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

type stubExporter struct {
	name  string
	err   error
	calls *[]string
}

func (s stubExporter) Name() string { return s.name }

func (s stubExporter) Export(context.Context, Summary, []scan.Record) error {
	*s.calls = append(*s.calls, s.name)
	return s.err
}

func TestRunAllStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	var calls []string
	boom := errors.New("bucket missing")
	exporters := []Exporter{
		stubExporter{name: "gcs", err: boom, calls: &calls},
		stubExporter{name: "pubsub", calls: &calls},
	}

	err := RunAll(context.Background(), exporters, Summary{RunID: uuid.New()}, nil, nil)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "export gcs")
	require.Equal(t, []string{"gcs"}, calls)
}

func TestRunAllInOrder(t *testing.T) {
	t.Parallel()

	var calls []string
	exporters := []Exporter{
		stubExporter{name: "gcs", calls: &calls},
		stubExporter{name: "postgres", calls: &calls},
		stubExporter{name: "pubsub", calls: &calls},
	}
	require.NoError(t, RunAll(context.Background(), exporters, Summary{}, nil, nil))
	require.Equal(t, []string{"gcs", "postgres", "pubsub"}, calls)
}
