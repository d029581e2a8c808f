// # SwiftStream: A Streaming CSV Ingestion Engine for Go
//
// SwiftStream turns an arbitrary byte source into a lazy, single-pass sequence of records. It adheres to RFC 4180, interns column names once per process, and keeps per-cell allocations low for large inputs.
//
// # Features
//
// - Sources: in-memory bytes, file paths (gzip, zstd, xz, lz4, snappy and bzip2 detected by suffix), caller-owned descriptors that are never closed, and plain io.Readers.
// - Two scheduling regimes: a worker goroutine feeding a bounded channel for sources that may change goroutines, or inline pulls for readers that must stay on the caller's goroutine.
// - Records as positional `FieldList` or header-keyed `FieldMap`, with null markers, flexible row widths, trimming, NUL stripping and lossy UTF-8 decoding.
// - One error type, `*Error`, with machine-readable codes; streaming errors arrive as the last item of the sequence.
// - Config loading from YAML and `SWIFTSTREAM_*` environment variables, zerolog logging, OpenTelemetry instruments and a Prometheus collector for the header interner.
//
// # Getting Started
//
//	eng, err := swiftstream.Open(ctx, swiftstream.Path("orders.csv.gz"))
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//	for rec, err := range eng.All() {
//		if err != nil {
//			return err
//		}
//		fmt.Println(rec.(swiftstream.FieldMap).Lookup("id"))
//	}
package swiftstream
