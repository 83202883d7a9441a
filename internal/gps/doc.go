// Package gps folds NMEA sentences from a GNSS receiver into a position
// snapshot for the live display and the log summary.
//
// Sentences are decoded with go-nmea. GGA, RMC, GSA, GSV and VTG update the
// snapshot; every other valid sentence only counts toward the totals.
package gps
