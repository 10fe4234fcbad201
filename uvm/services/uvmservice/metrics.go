package uvmservice

import (
	"context"

	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/telemetry"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metricsHandler struct {
	measurer *telemetry.Measurer

	operations telemetry.Counter
	rollbacks  telemetry.Counter
	gasUsed    telemetry.Histogram
}

func newMetricsHandler(name string) (*metricsHandler, error) {
	meter := telemetry.NewMeter(name)
	measurer, err := telemetry.NewMeasurer(meter, "apply_block")
	if err != nil {
		return nil, err
	}
	mh := &metricsHandler{measurer: measurer}

	if mh.operations, err = meter.Int64Counter("operations"); err != nil {
		return nil, err
	}
	if mh.rollbacks, err = meter.Int64Counter("rollbacks"); err != nil {
		return nil, err
	}
	if mh.gasUsed, err = meter.Int64Histogram("gas_used"); err != nil {
		return nil, err
	}
	return mh, nil
}

func (mh *metricsHandler) startBlock() {
	mh.measurer.Restart()
}

func (mh *metricsHandler) endBlock(ctx context.Context, gasUsed types.Gas, ok bool) {
	elapsed := mh.measurer.Measure(ctx, attribute.Bool("ok", ok))
	logger.Trace().Dur(logging.FieldDuration, elapsed).Bool("ok", ok).Msg("Block processed")
	if ok {
		mh.gasUsed.Record(ctx, int64(gasUsed.Uint64()))
	}
}

func (mh *metricsHandler) recordOperation(ctx context.Context, op types.OpCode, err error) {
	mh.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op.String()),
		attribute.String("code", types.GetErrorCode(err).String()),
	))
}

func (mh *metricsHandler) recordRollback(ctx context.Context) {
	mh.rollbacks.Add(ctx, 1)
}
