// Package fulgor implements a colored compacted de Bruijn graph index
// for reference collections of DNA sequences.
//
// Given a set of reference documents and a k-mer length k, the index
// maps every k-mer occurring in the references to its color set (the
// set of references containing it) and answers two pseudoalignment
// queries over arbitrary sequences: full intersection and threshold
// union.
//
// Color sets are stored in one of four compressed encodings, each with
// its own file extension: hybrid (.fur), meta (.mfur), differential
// (.dfur), and meta-differential (.mdfur). The meta and differential
// flavours are derived from an existing index by re-ordering
// references or color sets with sketch-based clustering before
// re-encoding.
package fulgor
