// Package codec encodes conversation frames for the data channel.
//
// Frames are CBOR with Core Deterministic Encoding (RFC 8949 §4.2), so the
// same frame always yields the same bytes. A text frame carries only data;
// a file frame carries the file name in data plus fileBytes and mimeType.
// Every frame carries the sender's per-session sequence number.
//
// Data channels limit message size, so an encoded frame is split into
// Packets by Chunk and put back together by a Reassembler on the far side.
// A frame that fits in one chunk still travels as a single-packet set.
package codec
