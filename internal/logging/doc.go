// Package logging configures structured JSON logging for amanfacet.
//
// The CLI logs to stderr at warn level by default. With --debug (or a
// logging.file entry in config) every index and query operation is written
// as JSON to a size-rotated file under ~/.amanfacet/logs/, which the
// `amanfacet logs` command can tail and follow.
package logging
