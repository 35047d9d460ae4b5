package s3

import (
	"testing"

	"github.com/aws/smithy-go"
)

// parsePath and isNoSuchKey's non-API-error branch are the only pieces of
// this adapter exercisable without a live S3 endpoint; Create/Open/Close/
// Sync all require a reachable AWS account (see DESIGN.md) and are not
// covered here.
func TestParsePathSplitsBucketAndKey(t *testing.T) {
	cases := []struct {
		path       string
		wantBucket string
		wantKey    string
	}{
		{"s3://my-bucket/path/to/obj.smiol", "my-bucket", "path/to/obj.smiol"},
		{"s3://my-bucket/obj.smiol", "my-bucket", "obj.smiol"},
		{"s3://my-bucket", "my-bucket", ""},
	}
	for _, c := range cases {
		bucket, key := parsePath(c.path)
		if bucket != c.wantBucket || key != c.wantKey {
			t.Errorf("parsePath(%q) = (%q, %q), want (%q, %q)", c.path, bucket, key, c.wantBucket, c.wantKey)
		}
	}
}

func TestIsNoSuchKeyFalseForUnwrappedError(t *testing.T) {
	var apiErr smithy.APIError
	if isNoSuchKey(errPlain("boom"), &apiErr) {
		t.Fatal("a plain error should never be mistaken for a NoSuchKey API error")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
