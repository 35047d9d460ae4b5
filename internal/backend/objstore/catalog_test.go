package objstore_test

import (
	"testing"

	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/backend/objstore"
)

func TestEncodeDecodeRoundTripsAnImage(t *testing.T) {
	img := objstore.Image{
		Dims: []objstore.DimDef{{Name: "nCells", Size: 4}},
		Vars: []objstore.VarDef{{Name: "temperature", VType: backend.Real64, DimIDs: []int{0}}},
		Atts: map[objstore.AttKey]objstore.AttDef{
			{VarID: -1, Name: "title"}: {VType: backend.Char, Value: []byte("hi")},
		},
	}
	data, err := objstore.Encode(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := objstore.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Dims) != 1 || got.Dims[0].Name != "nCells" || got.Dims[0].Size != 4 {
		t.Fatalf("unexpected dims after round trip: %+v", got.Dims)
	}
	if len(got.Vars) != 1 || got.Vars[0].Name != "temperature" {
		t.Fatalf("unexpected vars after round trip: %+v", got.Vars)
	}
	att, ok := got.Atts[objstore.AttKey{VarID: -1, Name: "title"}]
	if !ok || string(att.Value) != "hi" {
		t.Fatalf("unexpected attribute after round trip: %+v, ok=%v", att, ok)
	}
}

func TestDecodeOfEmptyBytesYieldsAnEmptyUsableImage(t *testing.T) {
	img, err := objstore.Decode(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Atts == nil {
		t.Fatal("expected a non-nil Atts map for an empty image")
	}
}

func TestCatalogDefineDimAndInquire(t *testing.T) {
	c := objstore.NewCatalog()
	id, err := c.DefineDim("nCells", 10)
	if err != nil {
		t.Fatalf("define_dim: %v", err)
	}
	gotID, size, err := c.InquireDim("nCells")
	if err != nil {
		t.Fatalf("inquire_dim: %v", err)
	}
	if gotID != id || size != 10 {
		t.Fatalf("got (%d, %d), want (%d, 10)", gotID, size, id)
	}
	if _, err := c.DefineDim("nCells", 20); err == nil {
		t.Fatal("expected an error redefining an existing dimension")
	}
}

func TestCatalogLoadImageThenSnapshotRoundTrips(t *testing.T) {
	c := objstore.NewCatalog()
	if _, err := c.DefineDim("nCells", 10); err != nil {
		t.Fatalf("define_dim: %v", err)
	}
	if _, err := c.DefineVar("temperature", backend.Real64, []int{0}); err != nil {
		t.Fatalf("define_var: %v", err)
	}
	snap := c.Snapshot()

	c2 := objstore.NewCatalog()
	c2.LoadImage(snap)
	_, size, err := c2.InquireDim("nCells")
	if err != nil {
		t.Fatalf("inquire_dim after load: %v", err)
	}
	if size != 10 {
		t.Fatalf("got size %d, want 10", size)
	}
}

func TestCatalogPutVarNBThenGetVarRoundTripsAHyperslabAtAnOffset(t *testing.T) {
	c := objstore.NewCatalog()
	dimID, err := c.DefineDim("nCells", 4)
	if err != nil {
		t.Fatalf("define_dim: %v", err)
	}
	varID, err := c.DefineVar("temperature", backend.Real64, []int{dimID})
	if err != nil {
		t.Fatalf("define_var: %v", err)
	}

	first := make([]byte, 8*4)
	for i := range first {
		first[i] = 0xAA
	}
	req, err := c.PutVarNB(varID, []int64{0}, []int64{4}, first)
	if err != nil {
		t.Fatalf("put_var_nb (first): %v", err)
	}
	if err := c.WaitAll([]backend.Request{req}); err != nil {
		t.Fatalf("wait_all (first): %v", err)
	}

	second := make([]byte, 8*2)
	for i := range second {
		second[i] = 0xBB
	}
	if _, err := c.PutVarNB(varID, []int64{2}, []int64{2}, second); err != nil {
		t.Fatalf("put_var_nb (second): %v", err)
	}

	got := make([]byte, 8*4)
	if err := c.GetVar(varID, []int64{0}, []int64{4}, got); err != nil {
		t.Fatalf("get_var: %v", err)
	}
	for i := 0; i < 16; i++ {
		if got[i] != 0xAA {
			t.Errorf("byte %d (element 0-1): got %#x, want 0xAA", i, got[i])
		}
	}
	for i := 16; i < 32; i++ {
		if got[i] != 0xBB {
			t.Errorf("byte %d (element 2-3): got %#x, want 0xBB", i, got[i])
		}
	}
}

func TestCatalogBufferUseReturnsToZeroAfterAPut(t *testing.T) {
	c := objstore.NewCatalog()
	dimID, _ := c.DefineDim("nCells", 4)
	varID, err := c.DefineVar("temperature", backend.Real64, []int{dimID})
	if err != nil {
		t.Fatalf("define_var: %v", err)
	}
	if _, err := c.PutVarNB(varID, []int64{0}, []int64{4}, make([]byte, 32)); err != nil {
		t.Fatalf("put_var_nb: %v", err)
	}
	if use := c.BufferUse(); use != 0 {
		t.Fatalf("buffer use after a synchronous put: got %d, want 0", use)
	}
}

func TestCatalogGetVarOnUnknownVarIDIsNotFound(t *testing.T) {
	c := objstore.NewCatalog()
	if err := c.GetVar(0, []int64{0}, []int64{1}, make([]byte, 8)); err == nil {
		t.Fatal("expected a not-found error for an undefined variable")
	} else if _, ok := err.(*backend.NotFoundError); !ok {
		t.Fatalf("got error of type %T, want *backend.NotFoundError", err)
	}
}
