package smiol_test

import (
	"path/filepath"
	"sync"
	"testing"

	smiol "github.com/MPAS-Dev/smiol-go"
	"github.com/MPAS-Dev/smiol-go/internal/comm"
)

// runAll calls fn once per rank, concurrently (every collective call in
// this module rendezvouses across its communicator's members, so driving
// a multi-rank scenario from a single goroutine would deadlock).
func runAll(n int, fn func(rank int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = fn(i)
		}(i)
	}
	wg.Wait()
	return errs
}

func requireNoErrors(t *testing.T, op string, errs []error) {
	t.Helper()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("%s: rank %d: %v", op, rank, err)
		}
	}
}

// evenSplit partitions [0,total) into n contiguous shares, giving the
// remainder to the lowest-numbered ranks, the same convention
// internal/decomp uses for its own I/O-range split.
func evenSplit(rank, n int, total int64) []int64 {
	share := total / int64(n)
	rem := total % int64(n)
	var start, count int64
	if int64(rank) < rem {
		count = share + 1
		start = int64(rank) * count
	} else {
		count = share
		start = rem*(share+1) + (int64(rank)-rem)*share
	}
	ids := make([]int64, count)
	for i := range ids {
		ids[i] = start + int64(i)
	}
	return ids
}

// TestEndToEndDecomposedWriteThenRead drives every rank through init,
// open, define, a decomposed put_var, sync, close, and finalize, then
// reopens the same file for read with a symmetric decomposition and
// checks every rank reads back exactly what it wrote.
func TestEndToEndDecomposedWriteThenRead(t *testing.T) {
	const n = 3
	const numIOTasks = 1
	const ioStride = n
	const total = 11

	path := filepath.Join(t.TempDir(), "data.smiol")
	comms := comm.NewWorld(n)

	ctxs := make([]*smiol.Context, n)
	requireNoErrors(t, "init", runAll(n, func(rank int) error {
		c, err := smiol.Init(comms[rank], numIOTasks, ioStride)
		ctxs[rank] = c
		return err
	}))

	files := make([]*smiol.File, n)
	requireNoErrors(t, "open_file (create)", runAll(n, func(rank int) error {
		f, err := smiol.OpenFile(ctxs[rank], path, smiol.Create|smiol.Write)
		files[rank] = f
		return err
	}))

	decomps := make([]*smiol.Decomp, n)
	requireNoErrors(t, "create_decomp (write)", runAll(n, func(rank int) error {
		ids := evenSplit(rank, n, total)
		d, err := smiol.CreateDecomp(ctxs[rank], ids, 0)
		decomps[rank] = d
		return err
	}))

	requireNoErrors(t, "define_dim", runAll(n, func(rank int) error {
		_, err := files[rank].DefineDim("nCells", total)
		return err
	}))
	requireNoErrors(t, "define_var", runAll(n, func(rank int) error {
		_, err := files[rank].DefineVar("temperature", smiol.Real64, []string{"nCells"})
		return err
	}))
	requireNoErrors(t, "define_att", runAll(n, func(rank int) error {
		return files[rank].DefineAtt("", "title", smiol.Char, []byte("integration test"))
	}))

	requireNoErrors(t, "put_var", runAll(n, func(rank int) error {
		ids := evenSplit(rank, n, total)
		buf := make([]byte, len(ids)*8)
		for k, id := range ids {
			for b := 0; b < 8; b++ {
				buf[k*8+b] = byte(id)
			}
		}
		return smiol.PutVar(files[rank], "temperature", decomps[rank], buf)
	}))

	requireNoErrors(t, "sync_file", runAll(n, func(rank int) error {
		return files[rank].SyncFile()
	}))
	requireNoErrors(t, "free_decomp (write)", runAll(n, func(rank int) error {
		return decomps[rank].FreeDecomp()
	}))
	requireNoErrors(t, "close_file (write)", runAll(n, func(rank int) error {
		return files[rank].CloseFile()
	}))
	requireNoErrors(t, "finalize (write)", runAll(n, func(rank int) error {
		return ctxs[rank].Finalize()
	}))

	// Reopen for read with a fresh set of contexts and a symmetric
	// decomposition keyed by the same compute ids.
	readCtxs := make([]*smiol.Context, n)
	requireNoErrors(t, "init (read)", runAll(n, func(rank int) error {
		c, err := smiol.Init(comms[rank], numIOTasks, ioStride)
		readCtxs[rank] = c
		return err
	}))
	readFiles := make([]*smiol.File, n)
	requireNoErrors(t, "open_file (read)", runAll(n, func(rank int) error {
		f, err := smiol.OpenFile(readCtxs[rank], path, smiol.Read)
		readFiles[rank] = f
		return err
	}))
	readDecomps := make([]*smiol.Decomp, n)
	requireNoErrors(t, "create_decomp (read)", runAll(n, func(rank int) error {
		ids := evenSplit(rank, n, total)
		d, err := smiol.CreateDecomp(readCtxs[rank], ids, 0)
		readDecomps[rank] = d
		return err
	}))

	gotBufs := make([][]byte, n)
	requireNoErrors(t, "get_var", runAll(n, func(rank int) error {
		ids := evenSplit(rank, n, total)
		buf := make([]byte, len(ids)*8)
		if err := smiol.GetVar(readFiles[rank], "temperature", readDecomps[rank], buf); err != nil {
			return err
		}
		gotBufs[rank] = buf
		return nil
	}))

	for rank := 0; rank < n; rank++ {
		ids := evenSplit(rank, n, total)
		got := gotBufs[rank]
		for k, id := range ids {
			if got[k*8] != byte(id) {
				t.Errorf("rank %d element %d: got tag %d, want %d", rank, id, got[k*8], byte(id))
			}
		}
	}

	requireNoErrors(t, "free_decomp (read)", runAll(n, func(rank int) error {
		return readDecomps[rank].FreeDecomp()
	}))
	requireNoErrors(t, "close_file (read)", runAll(n, func(rank int) error {
		return readFiles[rank].CloseFile()
	}))
	requireNoErrors(t, "finalize (read)", runAll(n, func(rank int) error {
		return readCtxs[rank].Finalize()
	}))
}

// TestNonDecomposedGetVarReachesEveryRank drives a 3-rank world with a
// single I/O task (rank 0) through a non-decomposed put_var/get_var round
// trip and checks that both non-I/O ranks (1 and 2), which never call the
// backend themselves, still receive the full record: get_var's I/O task
// must fan the bytes it read out to its followers rather than leaving
// their buffers untouched.
func TestNonDecomposedGetVarReachesEveryRank(t *testing.T) {
	const n = 3
	const numIOTasks = 1
	const ioStride = n
	const nCells = 4

	path := filepath.Join(t.TempDir(), "data.smiol")
	comms := comm.NewWorld(n)

	ctxs := make([]*smiol.Context, n)
	requireNoErrors(t, "init", runAll(n, func(rank int) error {
		c, err := smiol.Init(comms[rank], numIOTasks, ioStride)
		ctxs[rank] = c
		return err
	}))

	files := make([]*smiol.File, n)
	requireNoErrors(t, "open_file", runAll(n, func(rank int) error {
		f, err := smiol.OpenFile(ctxs[rank], path, smiol.Create|smiol.Write)
		files[rank] = f
		return err
	}))

	requireNoErrors(t, "define_dim", runAll(n, func(rank int) error {
		_, err := files[rank].DefineDim("nCells", nCells)
		return err
	}))
	requireNoErrors(t, "define_var", runAll(n, func(rank int) error {
		_, err := files[rank].DefineVar("temperature", smiol.Real64, []string{"nCells"})
		return err
	}))

	requireNoErrors(t, "put_var", runAll(n, func(rank int) error {
		buf := make([]byte, nCells*8)
		if rank == 0 {
			for i := range buf {
				buf[i] = byte(i + 1)
			}
		}
		return smiol.PutVar(files[rank], "temperature", nil, buf)
	}))
	requireNoErrors(t, "sync_file", runAll(n, func(rank int) error {
		return files[rank].SyncFile()
	}))

	gotBufs := make([][]byte, n)
	requireNoErrors(t, "get_var", runAll(n, func(rank int) error {
		buf := make([]byte, nCells*8)
		if err := smiol.GetVar(files[rank], "temperature", nil, buf); err != nil {
			return err
		}
		gotBufs[rank] = buf
		return nil
	}))

	want := gotBufs[0]
	for rank := 1; rank < n; rank++ {
		if string(gotBufs[rank]) != string(want) {
			t.Errorf("rank %d: get_var returned %v, want %v (the record the I/O task read)", rank, gotBufs[rank], want)
		}
	}

	requireNoErrors(t, "close_file", runAll(n, func(rank int) error {
		return files[rank].CloseFile()
	}))
	requireNoErrors(t, "finalize", runAll(n, func(rank int) error {
		return ctxs[rank].Finalize()
	}))
}

// TestFinalizeRejectsAContextWithOpenFiles exercises the invariant that a
// Context cannot be torn down while any of its files are still open.
func TestFinalizeRejectsAContextWithOpenFiles(t *testing.T) {
	const n = 1
	comms := comm.NewWorld(n)
	ctx, err := smiol.Init(comms[0], 1, 1)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	path := filepath.Join(t.TempDir(), "data.smiol")
	f, err := smiol.OpenFile(ctx, path, smiol.Create|smiol.Write)
	if err != nil {
		t.Fatalf("open_file: %v", err)
	}
	if err := ctx.Finalize(); err == nil {
		t.Fatal("expected finalize to reject a context with an open file")
	}
	if err := f.CloseFile(); err != nil {
		t.Fatalf("close_file: %v", err)
	}
	if err := ctx.Finalize(); err != nil {
		t.Fatalf("finalize after close: %v", err)
	}
}

// TestOpenFileRejectsConflictingModeFlags exercises the CREATE/READ
// mutual-exclusion invariant before any communicator or backend work is
// attempted.
func TestOpenFileRejectsConflictingModeFlags(t *testing.T) {
	const n = 1
	comms := comm.NewWorld(n)
	ctx, err := smiol.Init(comms[0], 1, 1)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer ctx.Finalize()

	path := filepath.Join(t.TempDir(), "data.smiol")
	if _, err := smiol.OpenFile(ctx, path, smiol.Create|smiol.Read); err == nil {
		t.Fatal("expected open_file to reject CREATE|READ")
	}
}

// TestRecordVariableAdvancesAcrossFrames exercises the unlimited-dimension
// record cursor on a single rank, writing and reading
// back two separate frames of a scalar-per-frame variable.
func TestRecordVariableAdvancesAcrossFrames(t *testing.T) {
	const n = 1
	comms := comm.NewWorld(n)
	path := filepath.Join(t.TempDir(), "data.smiol")

	ctx, err := smiol.Init(comms[0], 1, 1)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	f, err := smiol.OpenFile(ctx, path, smiol.Create|smiol.Write)
	if err != nil {
		t.Fatalf("open_file: %v", err)
	}
	if _, err := f.DefineDim("Time", -1); err != nil {
		t.Fatalf("define_dim: %v", err)
	}
	if _, err := f.DefineVar("xtime", smiol.Real64, []string{"Time"}); err != nil {
		t.Fatalf("define_var: %v", err)
	}

	for frame := int64(0); frame < 2; frame++ {
		if err := f.SetFrame(frame); err != nil {
			t.Fatalf("set_frame(%d): %v", frame, err)
		}
		buf := make([]byte, 8)
		buf[0] = byte(frame + 1)
		if err := smiol.PutVar(f, "xtime", nil, buf); err != nil {
			t.Fatalf("put_var frame %d: %v", frame, err)
		}
	}
	if err := f.SyncFile(); err != nil {
		t.Fatalf("sync_file: %v", err)
	}

	for frame := int64(0); frame < 2; frame++ {
		if err := f.SetFrame(frame); err != nil {
			t.Fatalf("set_frame(%d): %v", frame, err)
		}
		got := make([]byte, 8)
		if err := smiol.GetVar(f, "xtime", nil, got); err != nil {
			t.Fatalf("get_var frame %d: %v", frame, err)
		}
		if got[0] != byte(frame+1) {
			t.Errorf("frame %d: got tag %d, want %d", frame, got[0], frame+1)
		}
	}

	if err := f.CloseFile(); err != nil {
		t.Fatalf("close_file: %v", err)
	}
	if err := ctx.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
}
