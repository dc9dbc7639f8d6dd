package lik

import (
	"path/filepath"
	"testing"
)

func TestGzipRecordFileRoundTrip(t *testing.T) {
	rng := newTestRNG(t)
	keys, values := genSortedRecords(rng, 1000, 8, true)

	path := filepath.Join(t.TempDir(), "records.gz")
	w, err := CreateGzipRecordFile(path, 6)
	if err != nil {
		t.Fatal(err)
	}
	var written uint64
	for i, key := range keys {
		for _, v := range values[i] {
			if err := w.WriteRecord(key, v); err != nil {
				t.Fatalf("WriteRecord: %v", err)
			}
			written++
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}
	wantChecksum := w.Checksum()
	if w.Count() != written {
		t.Errorf("writer Count = %d, want %d", w.Count(), written)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := OpenGzipRecordFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	i, j := 0, 0
	for {
		key, value, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if key != keys[i] || value != values[i][j] {
			t.Fatalf("record %d: got (%d, %d), want (%d, %d)",
				r.Count(), key, value, keys[i], values[i][j])
		}
		j++
		if j == len(values[i]) {
			i++
			j = 0
		}
	}
	if i != len(keys) {
		t.Fatalf("read %d keys, want %d", i, len(keys))
	}
	if r.Count() != written {
		t.Errorf("reader Count = %d, want %d", r.Count(), written)
	}
	if r.Checksum() != wantChecksum {
		t.Errorf("checksum mismatch: reader %x, writer %x", r.Checksum(), wantChecksum)
	}
}

func TestGzipRecordFileRejectsWrongHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notrecords.gz")
	gs, err := CreateGzipStream(path, 6)
	if err != nil {
		t.Fatal(err)
	}
	bw := NewBinaryWriter(gs)
	bw.WriteHeader("otherfmt", 1)
	if err := bw.Err(); err != nil {
		t.Fatal(err)
	}
	if err := gs.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenGzipRecordFile(path); err == nil {
		t.Fatal("OpenGzipRecordFile accepted a foreign header")
	}
}

func TestSliceRecordSourceDrivesBuilder(t *testing.T) {
	src := &SliceRecordSource{
		Keys:   []uint64{5, 5, 9},
		Values: []uint64{20, 10, 30},
	}

	b, err := NewDatabaseBuilder(true)
	if err != nil {
		t.Fatal(err)
	}
	for {
		key, value, ok, err := src.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if err := b.AddRecord(key, value); err != nil {
			t.Fatal(err)
		}
	}
	r, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	checkKey(t, r, 5, []uint64{20, 10})
	checkKey(t, r, 9, []uint64{30})
}

func TestGzipRecordFileBuildsDatabase(t *testing.T) {
	rng := newTestRNG(t)
	keys, values := genSortedRecords(rng, 500, 4, true)

	path := filepath.Join(t.TempDir(), "corpus.gz")
	w, err := CreateGzipRecordFile(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i, key := range keys {
		for _, v := range values[i] {
			if err := w.WriteRecord(key, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	src, err := OpenGzipRecordFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	b, err := NewDatabaseBuilder(true, WithCompression(2))
	if err != nil {
		t.Fatal(err)
	}
	for {
		key, value, ok, err := src.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if err := b.AddRecord(key, value); err != nil {
			t.Fatal(err)
		}
	}
	r, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for i, key := range keys {
		checkKey(t, r, key, values[i])
	}
}
