// Package covid fetches daily case data from the UK coronavirus dashboard API
// and reduces it to the figures the dashboard shows. CSV exports of the same
// data can be summarized offline.
package covid
