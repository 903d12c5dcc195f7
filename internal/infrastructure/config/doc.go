// Package config loads ceazamet-ingest settings.
//
// Values are layered: built-in defaults, then the YAML file (optional;
// a missing file keeps the defaults), then CEAZAMET_* environment
// variables. Load validates the result; callers that apply command-line
// flags on top call Validate again.
//
// The InfluxDB connection may be given as CEAZAMET_INFLUXDB_HOST and
// _PORT, which rebuild influxdb.url. Passwords and tokens are best kept
// in the environment rather than the file.
//
// Durations are stored as integer seconds, matching the YAML, and exposed
// as time.Duration through helpers such as PollInterval and
// APITimeoutConfig.ReadTimeout.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	interval := cfg.PollInterval()
package config
