// Package cmet is a client for the CEAZA-Met metadata and time-series web
// service.
//
// The service answers plain CSV. Two response modes are handled:
//   - headered: the first line names the columns (a leading '#' is stripped
//     from each name)
//   - positional: no usable header; columns are named from a fixed map and
//     lines beginning with '#' are skipped
//
// Every request carries the configured user identity. Time-series calls
// that fail return no rows and an error wrapping ErrRemoteFetch or
// ErrParse, which callers treat as "no data this round".
//
// Usage:
//
//	client := cmet.New(cmet.Config{BaseURL: cfg.CEAZAMet.BaseURL, User: cfg.CEAZAMet.User, Location: loc})
//	stations, err := client.Stations(ctx, cmet.StationQuery{Network: "ceazamet", Owner: "ceaza"})
package cmet
