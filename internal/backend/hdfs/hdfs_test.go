package hdfs

import "testing"

// parsePath is the only piece of this adapter exercisable without a live
// HDFS namenode; Create/Open/Close/Sync all require a reachable cluster
// (see DESIGN.md) and are not covered here.
func TestParsePathSplitsNamenodeAndFilePath(t *testing.T) {
	cases := []struct {
		path         string
		wantNamenode string
		wantFilePath string
	}{
		{"hdfs://nn1:8020/user/smiol/data.smiol", "nn1:8020", "/user/smiol/data.smiol"},
		{"hdfs://nn1:8020/data.smiol", "nn1:8020", "/data.smiol"},
		{"hdfs://nn1:8020", "nn1:8020", "/"},
	}
	for _, c := range cases {
		namenode, filePath := parsePath(c.path)
		if namenode != c.wantNamenode || filePath != c.wantFilePath {
			t.Errorf("parsePath(%q) = (%q, %q), want (%q, %q)", c.path, namenode, filePath, c.wantNamenode, c.wantFilePath)
		}
	}
}

func TestHdfsUserDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("HADOOP_USER_NAME", "")
	if got := hdfsUser(); got != "smiol" {
		t.Errorf("hdfsUser() = %q, want %q", got, "smiol")
	}
	t.Setenv("HADOOP_USER_NAME", "alice")
	if got := hdfsUser(); got != "alice" {
		t.Errorf("hdfsUser() = %q, want %q", got, "alice")
	}
}
