// Package export publishes the stored values of a run as parquet objects.
package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/riskbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

const moduleName = "export"

// ContentType is the content type of uploaded objects.
const ContentType = "application/vnd.apache.parquet"

// ValueRow is the parquet schema of one exported value.
type ValueRow struct {
	ValueID                  int64   `parquet:"name=value_id, type=INT64"`
	RunID                    int64   `parquet:"name=run_id, type=INT64"`
	CalculationConfiguration string  `parquet:"name=calc_config, type=BYTE_ARRAY, convertedtype=UTF8"`
	ValueName                string  `parquet:"name=value_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	TargetType               string  `parquet:"name=target_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	TargetID                 string  `parquet:"name=target_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Specification            string  `parquet:"name=specification, type=BYTE_ARRAY, convertedtype=UTF8"`
	FunctionUniqueID         string  `parquet:"name=function_unique_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ComputeNode              string  `parquet:"name=compute_node, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value                    float64 `parquet:"name=value, type=DOUBLE"`
	EvalInstant              int64   `parquet:"name=eval_instant, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func toRow(runID int64, v model.StoredValue) ValueRow {
	return ValueRow{
		ValueID:                  v.ID,
		RunID:                    runID,
		CalculationConfiguration: v.CalculationConfiguration,
		ValueName:                v.ValueName,
		TargetType:               string(v.Target.Type),
		TargetID:                 v.Target.UniqueID(),
		Specification:            v.SpecificationForm,
		FunctionUniqueID:         v.FunctionUniqueID,
		ComputeNode:              v.ComputeNode,
		Value:                    v.Value,
		EvalInstant:              v.EvalInstant.UnixMilli(),
	}
}

// Result lists the objects written by one export.
type Result struct {
	RunID   int64
	Objects []string
	Rows    int
}

// Source is the part of the risk store an export reads.
type Source interface {
	FindRunByID(ctx context.Context, runID int64) (*model.RiskRun, error)
	FindValuesByCalculationConfiguration(ctx context.Context, runID int64, calcConfig string) ([]model.StoredValue, error)
}

var _ Source = (repository.RiskRepository)(nil)

// ParquetExporter writes one parquet object per calculation configuration of a run.
type ParquetExporter struct {
	source   Source
	resolver storage.StorageConnectionResolver
	cfg      *config.InfrastructureConfig
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// NewParquetExporter creates an exporter that uploads through the connection named by cfg.ExportStorageRef.
func NewParquetExporter(source Source, resolver storage.StorageConnectionResolver, cfg *config.InfrastructureConfig, recorder metrics.MetricRecorder, tracer metrics.Tracer) *ParquetExporter {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &ParquetExporter{source: source, resolver: resolver, cfg: cfg, recorder: recorder, tracer: tracer}
}

// ObjectPrefix returns the prefix of every object exported for runID in calcConfig.
func ObjectPrefix(baseDir string, runID int64, calcConfig string) string {
	return path.Join(baseDir, fmt.Sprintf("run=%d", runID), "calc_config="+calcConfig)
}

// ExportRun exports every calculation configuration of runID. Configurations are exported
// concurrently; a failing configuration does not stop the others and every failure is reported.
func (e *ParquetExporter) ExportRun(ctx context.Context, runID int64) (Result, error) {
	start := time.Now()
	result := Result{RunID: runID}

	ctx, end := e.tracer.StartSpan(ctx, "riskbatch.export", map[string]interface{}{"run_id": runID})
	defer end()

	err := e.exportRun(ctx, runID, &result)
	if err != nil {
		e.tracer.RecordError(ctx, moduleName, err)
	}
	e.recorder.RecordExport(ctx, len(result.Objects), time.Since(start), err)
	sort.Strings(result.Objects)
	if err == nil {
		logger.Infof("Export: run %d written as %d objects (%d rows).", runID, len(result.Objects), result.Rows)
	}
	return result, err
}

func (e *ParquetExporter) exportRun(ctx context.Context, runID int64, result *Result) error {
	codec, err := compressionCodec(e.cfg.ExportCompression)
	if err != nil {
		return exception.NewInvalidArgument(moduleName, err.Error())
	}
	run, err := e.source.FindRunByID(ctx, runID)
	if err != nil {
		return err
	}
	conn, err := e.resolver.ResolveStorageConnection(ctx, e.cfg.ExportStorageRef)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to resolve storage connection '%s'", e.cfg.ExportStorageRef), err, false, true)
	}

	var (
		mu       sync.Mutex
		multiErr *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.ExportConcurrency > 0 {
		g.SetLimit(e.cfg.ExportConcurrency)
	}
	for _, calcConfig := range run.CalculationConfigurationNames() {
		g.Go(func() error {
			object, rows, err := e.exportCalculationConfiguration(gctx, conn, runID, calcConfig, codec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				multiErr = multierror.Append(multiErr, fmt.Errorf("calculation configuration %s: %w", calcConfig, err))
				return nil
			}
			if object != "" {
				result.Objects = append(result.Objects, object)
				result.Rows += rows
			}
			return nil
		})
	}
	_ = g.Wait()
	return multiErr.ErrorOrNil()
}

// exportCalculationConfiguration uploads one object. Configurations without values produce none.
func (e *ParquetExporter) exportCalculationConfiguration(ctx context.Context, conn storage.StorageConnection, runID int64, calcConfig string, codec parquet.CompressionCodec) (string, int, error) {
	values, err := e.source.FindValuesByCalculationConfiguration(ctx, runID, calcConfig)
	if err != nil {
		return "", 0, err
	}
	if len(values) == 0 {
		logger.Debugf("Export: run %d has no values in %s.", runID, calcConfig)
		return "", 0, nil
	}

	buf, err := encode(runID, values, codec)
	if err != nil {
		return "", 0, exception.NewBatchError(moduleName, fmt.Sprintf("failed to encode %s of run %d", calcConfig, runID), err, false, false)
	}

	object := path.Join(ObjectPrefix(e.cfg.ExportBaseDir, runID, calcConfig), "values_"+uuid.NewString()+".parquet")
	if err := conn.Upload(ctx, "", object, buf, ContentType); err != nil {
		return "", 0, exception.NewBatchError(moduleName, fmt.Sprintf("failed to upload %s", object), err, false, true)
	}
	logger.Debugf("Export: uploaded %d values of %s to %s.", len(values), calcConfig, object)
	return object, len(values), nil
}

func encode(runID int64, values []model.StoredValue, codec parquet.CompressionCodec) (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(ValueRow), int64(len(values)))
	if err != nil {
		return nil, err
	}
	pw.CompressionType = codec
	for _, v := range values {
		if err := pw.Write(toRow(runID, v)); err != nil {
			return nil, err
		}
	}

	// WriteStop panics on some malformed schemas instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return buf, nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	}
	return 0, fmt.Errorf("unsupported compression type: %s", name)
}
