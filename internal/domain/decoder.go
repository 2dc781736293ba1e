package domain

// GribDecoder is the boundary to the binary grid-format decoder. The
// implementation lives in internal/adapter/grib; tests substitute fakes.
// All calls may fail and are treated as recoverable per-message or per-file
// errors by the indexing and extraction stages.
type GribDecoder interface {
	Open(path string) (GribFile, error)
}

// GribFile yields the messages of one opened GRIB file.
type GribFile interface {
	// Next returns the next message, or io.EOF when the file is exhausted.
	Next() (GribMessage, error)
	Close() error
}

// GribMessage exposes a single message's scalar header keys and, on demand,
// its full coordinate/value arrays. Release must be called once per message,
// even when a header read failed; it frees any decoder-held resources.
type GribMessage interface {
	// Int returns an integer header key, reporting absence via ok=false.
	Int(key string) (v int64, ok bool)
	// Str returns a string header key, reporting absence via ok=false.
	Str(key string) (v string, ok bool)
	// Arrays materializes the latitude, longitude and value arrays. The
	// three slices are index-aligned.
	Arrays() (lats, lons, values []float64, err error)
	Release()
}
