package azure

import "testing"

// parsePath and isAzureErrorCode's fallback path are the only pieces of
// this adapter exercisable without a live Azure endpoint;
// Create/Open/Close/Sync all require a reachable storage account (see
// DESIGN.md) and are not covered here.
func TestParsePathSplitsContainerAndBlob(t *testing.T) {
	cases := []struct {
		path          string
		wantContainer string
		wantBlob      string
	}{
		{"azure://my-container/path/to/obj.smiol", "my-container", "path/to/obj.smiol"},
		{"azure://my-container/obj.smiol", "my-container", "obj.smiol"},
		{"azure://my-container", "my-container", ""},
	}
	for _, c := range cases {
		container, blob := parsePath(c.path)
		if container != c.wantContainer || blob != c.wantBlob {
			t.Errorf("parsePath(%q) = (%q, %q), want (%q, %q)", c.path, container, blob, c.wantContainer, c.wantBlob)
		}
	}
}

func TestIsAzureErrorCodeFallsBackToSubstringMatch(t *testing.T) {
	err := errPlain("rpc error: rest error: StatusCode=409, ContainerAlreadyExists")
	if !isAzureErrorCode(err, "ContainerAlreadyExists") {
		t.Fatal("expected substring fallback to match an unwrapped error containing the code")
	}
	if isAzureErrorCode(err, "BlobNotFound") {
		t.Fatal("substring fallback should not match an unrelated code")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
