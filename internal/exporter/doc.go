// Package exporter writes the key list as CSV or XLSX.
//
// Both writers consume the store's lazy listing, so large key sets are
// streamed rather than collected. Exports contain full keys and HWIDs and are
// only reachable from authenticated admin surfaces.
//
//	n, err := exporter.Write(w, exporter.FormatXLSX, engine.List(ctx, actor))
package exporter
