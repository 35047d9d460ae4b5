package smiol

import (
	"github.com/MPAS-Dev/smiol-go/internal/config"
	"github.com/MPAS-Dev/smiol-go/internal/decomp"
)

// Decomp is the public handle for an exchange plan.
type Decomp struct {
	ctx   *Context
	inner *decomp.Decomp
}

// CreateDecomp builds an exchange plan from this rank's compute element
// ids, symmetrically on every rank in ctx. aggFactor of 0 or 1 disables
// the aggregation stage; any larger value groups that many consecutive
// ranks onto a sub-group leader before the exchange.
func CreateDecomp(ctx *Context, computeIDs []int64, aggFactor int) (*Decomp, error) {
	if err := ctx.checkValid(); err != nil {
		return nil, err
	}
	d, err := decomp.Create(decomp.CreateParams{
		Comm:       ctx.world,
		IsIOTask:   ctx.isIOTask,
		NumIOTasks: ctx.numIOTasks,
		IOStride:   ctx.ioStride,
		AggFactor:  aggFactor,
		NCompute:   int64(len(computeIDs)),
		ComputeIDs: computeIDs,
		Debug:      ctx.cfg.LogLevel == config.LogDebug,
	})
	if err != nil {
		return nil, err
	}
	return &Decomp{ctx: ctx, inner: d}, nil
}

// FreeDecomp releases the decomp's aggregation sub-communicator, if any.
func (d *Decomp) FreeDecomp() error {
	if d == nil {
		return nil
	}
	return d.inner.Free()
}

// IOCount is this rank's share of the global element count when acting
// as an I/O rank (zero on non-I/O ranks).
func (d *Decomp) IOCount() int64 { return d.inner.IOCount }

// IOStart is the offset of this rank's I/O range within the global
// element space (zero on non-I/O ranks).
func (d *Decomp) IOStart() int64 { return d.inner.IOStart }
