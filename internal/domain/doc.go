// Package domain models indexed GRIB2 forecast metadata.
//
// # Data Source
//
// The corpus is a directory tree of GRIB2 files, one file per model run and
// lead time, downloaded from NOAA NOMADS (CFS and friends) by an upstream
// fetcher. File names follow the CFS/NCEP convention:
//
//	<product><forecast YYYYMMDDHH>.<member>.<run YYYYMMDDHH>.grb2
//	e.g. flxf2025100218.01.2025100218.grb2
//	     ocnf2026040800.01.2025100312.grb2
//
// The product prefix ("flxf", "ocnf", ...) identifies the model output
// family. Files whose names do not match the convention are skipped with a
// warning during indexing.
//
// # Time Conventions
//
// All timestamps are UTC. Each GRIB message carries a reference time (the
// instant the model was initialized, a.k.a. run or cycle time) and a lead in
// hours; the forecast (valid) time is reference plus lead. Lead is derived
// from the message's forecastTime key when present, else from the end of the
// stepRange ("0-6" means 6), else from endStep or step. Accumulated fields
// commonly carry only a step range, which is why the fallback chain exists.
//
// # Longitude Convention
//
// Grid longitudes are always normalized to [0,360), matching the convention
// of global model output. A query region that crosses the 360/0 seam is
// expressed with lon_min > lon_max and evaluated as the union of
// [lon_min,360) and [0,lon_max].
//
// # Record Identity
//
// (file_path, variable, level_type, level_value, forecast_time) is the
// natural key of an indexed message. Re-indexing a file inserts with
// ON-CONFLICT-ignore semantics, so indexing is idempotent and replay safe.
package domain
