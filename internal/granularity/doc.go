// Package granularity decides which polling path a station uses.
//
// Stations on the minute allow-list are polled through the raw per-minute
// series; every other station through the hourly aggregated series.
// The allow-list comes from a Provider: Static (the fixed default set) or
// NetworkStatus, which scrapes the network status page.
package granularity
