package export_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/riskbatch/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/riskbatch/pkg/batch/component/classify"
	"github.com/tigerroll/riskbatch/pkg/batch/component/export"
	"github.com/tigerroll/riskbatch/pkg/batch/component/writer"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/test"
)

// exportRecorder remembers the last recorded export.
type exportRecorder struct {
	metrics.NoOpMetricRecorder
	objects int
	err     error
}

func (r *exportRecorder) RecordExport(_ context.Context, objects int, _ time.Duration, err error) {
	r.objects, r.err = objects, err
}

type fixture struct {
	store    *test.RiskStore
	infra    *config.InfrastructureConfig
	resolver storage.StorageConnectionResolver
	recorder *exportRecorder
	runID    int64
}

// newFixture stores a run with values in "Default" and none in "Empty".
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := test.NewRiskStore(t)

	store.Config.RiskBatch.StorageConfigs = map[string]interface{}{
		"export": map[string]interface{}{"type": "local", "base_dir": t.TempDir()},
	}
	infra := store.Config.RiskBatch.Infrastructure
	infra.ExportStorageRef = "export"
	infra.ExportBaseDir = "risk"
	infra.ExportCompression = "SNAPPY"
	infra.ExportConcurrency = 2

	run := &model.RiskRun{
		Identity:                  test.RunRequest(model.RunCreationCreateNew, nil).Identity,
		SnapshotMode:              model.SnapshotModePrepared,
		Parameters:                model.RunParameters{},
		CalculationConfigurations: map[string]int64{},
	}
	require.NoError(t, store.Repo.SaveRun(ctx, run))
	scope := writer.NewRunScope(run.ID, store.Repo, &store.Config.RiskBatch.Batch, nil)
	_, err := scope.Dimensions.CalculationConfiguration(ctx, run.ID, "Empty")
	require.NoError(t, err)

	w := writer.NewBatchWriter(store.TxManager, store.Repo, classify.NewClassifier(nil), nil, nil)
	_, err = w.Write(ctx, scope, test.Batch(
		test.Success("Default", test.Spec("PV", test.Trade("T1")), 1.5),
		test.Success("Default", test.Spec("PV", test.Trade("T2")), 2.5),
		test.Success("Default", test.Spec("Bucketed", test.Trade("T2")), map[string]float64{"1Y": 1, "2Y": 2}),
	))
	require.NoError(t, err)

	return &fixture{
		store: store,
		infra: &infra,
		resolver: storage.NewConnectionResolver(storage.ResolverParams{
			Providers: []storage.StorageProvider{local.NewProvider(store.Config)},
			Cfg:       store.Config,
		}),
		recorder: &exportRecorder{},
		runID:    run.ID,
	}
}

func (f *fixture) exporter() *export.ParquetExporter {
	return export.NewParquetExporter(f.store.Repo, f.resolver, f.infra, f.recorder, nil)
}

func TestExportRun_WritesOneObjectPerCalculationConfiguration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.exporter().ExportRun(ctx, f.runID)
	require.NoError(t, err)
	assert.Equal(t, f.runID, result.RunID)
	assert.Equal(t, 4, result.Rows)
	require.Len(t, result.Objects, 1, "configurations without values produce no object")

	prefix := export.ObjectPrefix("risk", f.runID, "Default")
	assert.True(t, strings.HasPrefix(result.Objects[0], prefix+"/values_"), result.Objects[0])
	assert.True(t, strings.HasSuffix(result.Objects[0], ".parquet"))
	assert.Equal(t, 1, f.recorder.objects)
	assert.NoError(t, f.recorder.err)

	conn, err := f.resolver.ResolveStorageConnection(ctx, "export")
	require.NoError(t, err)
	var listed []string
	require.NoError(t, conn.ListObjects(ctx, "", "risk/", func(name string) error {
		listed = append(listed, name)
		return nil
	}))
	assert.Equal(t, result.Objects, listed)

	r, err := conn.Download(ctx, "", result.Objects[0])
	require.NoError(t, err)
	defer r.Close()
	head := make([]byte, 4)
	_, err = r.Read(head)
	require.NoError(t, err)
	assert.Equal(t, "PAR1", string(head))
}

func TestExportRun_UnknownRun(t *testing.T) {
	f := newFixture(t)

	_, err := f.exporter().ExportRun(context.Background(), 4242)
	assert.ErrorIs(t, err, exception.ErrRunNotFound)
	assert.ErrorIs(t, f.recorder.err, exception.ErrRunNotFound)
}

func TestExportRun_UnsupportedCompression(t *testing.T) {
	f := newFixture(t)
	f.infra.ExportCompression = "LZMA"

	_, err := f.exporter().ExportRun(context.Background(), f.runID)
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

// failingSource fails to read one calculation configuration.
type failingSource struct {
	export.Source
	failing string
}

func (s failingSource) FindValuesByCalculationConfiguration(ctx context.Context, runID int64, calcConfig string) ([]model.StoredValue, error) {
	if calcConfig == s.failing {
		return nil, errors.New("read timeout")
	}
	return s.Source.FindValuesByCalculationConfiguration(ctx, runID, calcConfig)
}

func TestExportRun_ReportsFailedConfigurationsAndKeepsTheRest(t *testing.T) {
	f := newFixture(t)

	exporter := export.NewParquetExporter(failingSource{Source: f.store.Repo, failing: "Empty"}, f.resolver, f.infra, f.recorder, nil)
	result, err := exporter.ExportRun(context.Background(), f.runID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "calculation configuration Empty: read timeout")
	assert.Len(t, result.Objects, 1)
}
