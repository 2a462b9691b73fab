// Package telemetry persists device data without blocking message ingestion.
//
// The router hands each durable fact to Writer.Submit as an Op. Ops sit in a
// bounded Queue that discards the oldest entry when full; a single Writer
// goroutine drains the queue in batches into a Store. On shutdown the Writer
// flushes what it can within the drain timeout and abandons the rest.
//
// SQLiteStore is the primary Store, built on the migrated bridge database.
// NewMirror optionally forwards successful writes to InfluxDB for dashboards.
//
//	store := telemetry.NewMirror(telemetry.NewSQLiteStore(db), influxClient)
//	w, err := telemetry.NewWriter(store, telemetry.WriterConfig{QueueSize: 1024})
//	if err != nil {
//	    return err
//	}
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	w.Submit(telemetry.ReadingOp{Reading: r})
package telemetry
