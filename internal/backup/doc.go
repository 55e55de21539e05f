// Package backup exports point-in-time index snapshots to an object store
// and replays them into a writer.
//
// An archive is a fixed header followed by an lz4 frame holding a msgpack
// stream: one Manifest, then one record per document with its stored
// fields. Export refuses indexes with nostore fields, since their values
// exist only in the inverted index and a restore could not bring them back.
//
//	┌──────────────┬───────────────────────────────────────────┐
//	│ "AFSN" v1    │ lz4( msgpack(Manifest) msgpack(record)... ) │
//	└──────────────┴───────────────────────────────────────────┘
//
// Archives live under <prefix><index>/ in a LocalStore, S3Store or
// MinIOStore, named so that lexical order is creation order.
package backup
