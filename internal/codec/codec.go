// Package codec implements the tagged offset-table binary document format:
// encoding a JSON-shaped document into a model or struct's on-disk layout,
// decoding it back out (optionally resolving included relations), and
// applying a partial update in place without re-encoding the whole buffer.
package codec

// Version is the only document format version this codec understands.
const Version uint8 = 1

// headerBase is the number of header bytes preceding the first offset slot:
// one version byte plus a two-byte big-endian payload offset.
const headerBase = 3

// offsetWidth is the width in bytes of one header offset slot.
const offsetWidth = 4
