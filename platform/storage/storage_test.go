package storage

import (
	"strings"
	"testing"
	"time"
)

func TestObjectKeyPartitionsByDate(t *testing.T) {
	at := time.Date(2024, 3, 7, 23, 30, 0, 0, time.UTC)
	key := ObjectKey("/raw-feeds/dealer-1/", "feed.xml", at)

	if !strings.HasPrefix(key, "raw-feeds/dealer-1/2024/03/07/feed_") {
		t.Fatalf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".xml") {
		t.Fatalf("expected extension to be kept: %s", key)
	}
}

func TestObjectKeyStripsDirectoryComponents(t *testing.T) {
	key := ObjectKey("backups", "../../etc/passwd", time.Unix(0, 0))
	if strings.Contains(key, "..") {
		t.Fatalf("key must not contain traversal: %s", key)
	}
	if !strings.HasPrefix(key, "backups/1970/01/01/passwd_") {
		t.Fatalf("unexpected key: %s", key)
	}
}

func TestObjectKeyIsUnique(t *testing.T) {
	at := time.Now()
	if ObjectKey("a", "b.json", at) == ObjectKey("a", "b.json", at) {
		t.Fatal("expected unique keys for the same name")
	}
}
