// Package influxdb records bridge activity in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The Client writes one
// point per session lifecycle event (via Client.Observer), per outbound
// publish, per inbound message and per handler invocation.
//
// # Usage
//
//	sink, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
//	session.OnAny(sink.Observer())
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval). Batch
// failures arrive on the SetOnError callback wrapped in ErrWriteFailed.
// Connection and health check errors are returned directly.
package influxdb
