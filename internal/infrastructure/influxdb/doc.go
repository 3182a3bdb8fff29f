// Package influxdb records entity state history as time series.
//
// It wraps influxdb-client-go v2 with a batched, non-blocking write API.
// The recorder writes one entity_state point per state change:
//
//	entity_state,entity_id=binary_sensor.connected_to_router,domain=binary_sensor state="on",available=true,value=1
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry is optional
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { logger.Warn("influx write", "error", err) })
package influxdb
