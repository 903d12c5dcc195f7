// Package normalize turns raw series rows into validated readings.
//
// Hourly rows carry no usable timestamp and are stamped with the ingestion
// time. Minute rows carry a local timestamp in the source zone which is
// converted to UTC. A row whose min, prom or max is missing, non-numeric
// or not finite never becomes a Reading.
package normalize
