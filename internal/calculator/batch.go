package calculator

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchIDKey is the diagnostic key that ties the results of one
// BatchCalculate call together.
const BatchIDKey = "batch_id"

// BatchItem is the outcome of one input in a batch.
type BatchItem struct {
	Index  int
	Input  Input
	Result Result
	Err    error
}

// OK reports whether the item was calculated successfully.
func (b BatchItem) OK() bool { return b.Err == nil }

// BatchCalculate runs every input through e. Engines implementing
// BatchCalculator receive chunks of at most batchSize inputs; other engines
// are called sequentially. A failing item never aborts the batch.
func BatchCalculate(ctx context.Context, e Engine, inputs []Input, batchSize int, logger *zap.Logger) []BatchItem {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = len(inputs)
	}

	items := make([]BatchItem, 0, len(inputs))
	native, isNative := e.(BatchCalculator)
	batchID := uuid.NewString()

	for start := 0; start < len(inputs); start += batchSize {
		end := min(start+batchSize, len(inputs))
		chunk := inputs[start:end]

		var out []BatchItem
		if isNative {
			out = native.CalculateBatch(ctx, chunk)
		} else {
			out = CalculateSequential(ctx, e, chunk)
		}
		for i := range out {
			out[i].Index += start
			if out[i].Err != nil {
				logger.Warn("Batch item failed",
					zap.Int("index", out[i].Index),
					zap.String("engine", e.EngineInfo().Name),
					zap.Error(out[i].Err))
				continue
			}
			out[i].Result = out[i].Result.WithDiagnostic(BatchIDKey, batchID)
		}
		items = append(items, out...)
	}

	logger.Debug("Batch calculated",
		zap.String("engine", e.EngineInfo().Name),
		zap.String("batch_id", batchID),
		zap.Int("items", len(items)),
		zap.Bool("native", isNative))
	return items
}

// CalculateSequential calls e once per input. Engines that implement
// BatchCalculator use it for the items they cannot batch natively.
func CalculateSequential(ctx context.Context, e Engine, inputs []Input) []BatchItem {
	items := make([]BatchItem, len(inputs))
	for i, in := range inputs {
		items[i] = BatchItem{Index: i, Input: in}
		items[i].Result, items[i].Err = e.CalculateProfit(ctx, in)
	}
	return items
}
