package gcs

import "testing"

// parsePath is the only piece of this adapter exercisable without a live
// GCS endpoint; Create/Open/Close/Sync all require a reachable Google
// Cloud project (see DESIGN.md) and are not covered here.
func TestParsePathSplitsBucketAndObject(t *testing.T) {
	cases := []struct {
		path       string
		wantBucket string
		wantObject string
	}{
		{"gcs://my-bucket/path/to/obj.smiol", "my-bucket", "path/to/obj.smiol"},
		{"gcs://my-bucket/obj.smiol", "my-bucket", "obj.smiol"},
		{"gcs://my-bucket", "my-bucket", ""},
	}
	for _, c := range cases {
		bucket, object := parsePath(c.path)
		if bucket != c.wantBucket || object != c.wantObject {
			t.Errorf("parsePath(%q) = (%q, %q), want (%q, %q)", c.path, bucket, object, c.wantBucket, c.wantObject)
		}
	}
}
