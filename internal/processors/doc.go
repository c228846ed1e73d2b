// Package processors contains the built-in processor implementations.
//
// import-items normalises raw NDJSON, CSV or zipped input into the items
// format. count-tokens and bundle-csv consume items; summarise-archive
// consumes token counts. Together they form the default pipeline that every
// imported dataset fans out into.
package processors
