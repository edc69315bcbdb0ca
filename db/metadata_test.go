package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreAndGetRun(t *testing.T) {
	mdb, err := Open(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer mdb.Close()

	rec := &RunMetadata{
		RunHash:        "abc123",
		SessionID:      "session-1",
		Timestamp:      time.Now().UTC().Truncate(time.Second),
		DatasetHash:    "def456",
		RunName:        "poems",
		Model:          "gpt-4o-mini",
		Backend:        "openai",
		ResponseFormat: "text",
	}
	if err := mdb.StoreRun(rec); err != nil {
		t.Fatal(err)
	}
	got, err := mdb.GetRun("abc123")
	if err != nil {
		t.Fatal(err)
	}
	if *got != *rec {
		t.Errorf("record mismatch, expect:%+v, got:%+v", rec, got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	mdb, err := Open(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer mdb.Close()
	if _, err := mdb.GetRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expect ErrNotFound, got:%v", err)
	}
}

func TestStoreRunEmptyHash(t *testing.T) {
	mdb, err := Open(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer mdb.Close()
	if err := mdb.StoreRun(&RunMetadata{}); err == nil {
		t.Error("expected an error for an empty run hash")
	}
}

func TestListRuns(t *testing.T) {
	mdb, err := Open(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer mdb.Close()
	for _, hash := range []string{"r1", "r2", "r3"} {
		if err := mdb.StoreRun(&RunMetadata{RunHash: hash, Model: "gpt-4o-mini"}); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := mdb.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Errorf("list len, expect:3, got:%d", len(runs))
	}
}
