// Package lik implements a read-optimized, immutable on-disk index that
// maps 64-bit integer keys to one or more values using a learned-index
// lookup path: a trained recursive model predicts a key's position in a
// sorted range array, a bounded search corrects the prediction, and a
// cache-line-packed bucket returns the value(s).
//
// # Basic usage
//
// Building a database from a sorted stream of records:
//
//	b, err := lik.NewDatabaseBuilder(true, lik.WithCompression(16))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, rec := range sortedRecords {
//	    if err := b.AddRecord(rec.Key, rec.Value); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//	db, err := b.Finish()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := lik.Save(db, "out.lik"); err != nil {
//	    log.Fatal(err)
//	}
//
// Querying a database:
//
//	r, err := lik.Load("out.lik")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	var keys [4]uint64
//	var num [4]uint32
//	var ptr [4][]byte
//	r.Query(keys, &num, &ptr)
//
// # Package structure
//
//   - Binary stream: stream.go (MemoryStream, FileStream, GzipStream)
//   - Overflow storage: appendix.go
//   - Packed bucket pages: bucket.go
//   - Per-bucket accumulation: bucket_builder.go
//   - Whole-database build: db_builder.go
//   - Learned model oracle: model.go
//   - Range-array oracle: rangearray.go
//   - Query path: reader.go
//   - Reference record source (test aid): recordfile.go
//   - CLI: cmd/likctl
package lik
