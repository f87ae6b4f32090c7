package report

import (
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/fxnlabs/gemmbench/internal/bench"
)

// Schema of the Arrow export. Failed shapes have null timings and a
// non-null kind and error.
var outcomeSchemaFields = []arrow.Field{
	{Name: "m", Type: arrow.PrimitiveTypes.Uint32},
	{Name: "n", Type: arrow.PrimitiveTypes.Uint32},
	{Name: "k", Type: arrow.PrimitiveTypes.Uint32},
	{Name: "dtype", Type: arrow.BinaryTypes.String},
	{Name: "iterations", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "elapsed_ms", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "avg_ms", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "tops", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "failure_kind", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "error", Type: arrow.BinaryTypes.String, Nullable: true},
}

func outcomeSchema(rep *bench.Report) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{"run_id", "driver", "device", "compute_capability", "layout", "started"},
		[]string{
			rep.RunID.String(),
			rep.Driver,
			rep.Device.Name,
			rep.Device.ComputeCapability(),
			rep.Options.Layout.String(),
			rep.Started.UTC().Format(time.RFC3339Nano),
		},
	)
	return arrow.NewSchema(outcomeSchemaFields, &md)
}

// WriteArrow writes the outcomes of rep as a single record batch in the
// Arrow IPC file format.
func WriteArrow(w io.Writer, rep *bench.Report) error {
	pool := memory.NewGoAllocator()
	schema := outcomeSchema(rep)

	b := array.NewRecordBuilder(pool, schema)
	defer b.Release()

	m := b.Field(0).(*array.Uint32Builder)
	n := b.Field(1).(*array.Uint32Builder)
	k := b.Field(2).(*array.Uint32Builder)
	dtype := b.Field(3).(*array.StringBuilder)
	iterations := b.Field(4).(*array.Int32Builder)
	elapsed := b.Field(5).(*array.Float64Builder)
	avg := b.Field(6).(*array.Float64Builder)
	tops := b.Field(7).(*array.Float64Builder)
	kind := b.Field(8).(*array.StringBuilder)
	message := b.Field(9).(*array.StringBuilder)

	for _, o := range rep.Outcomes {
		if f := o.Failure; f != nil {
			m.Append(f.Shape.M)
			n.Append(f.Shape.N)
			k.Append(f.Shape.K)
			dtype.Append(f.DType.String())
			iterations.AppendNull()
			elapsed.AppendNull()
			avg.AppendNull()
			tops.AppendNull()
			kind.Append(f.Kind.String())
			message.Append(f.Message)
			continue
		}
		res := o.Result
		m.Append(res.Shape.M)
		n.Append(res.Shape.N)
		k.Append(res.Shape.K)
		dtype.Append(res.DType.String())
		iterations.Append(int32(res.Iterations))
		elapsed.Append(res.ElapsedMillis)
		avg.Append(res.AvgMillis)
		tops.Append(res.TOPS)
		kind.AppendNull()
		message.AppendNull()
	}

	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(pool))
	if err != nil {
		return err
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}
