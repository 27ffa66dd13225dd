/*
Package codec implements the wire format every datum type shares: a
sign-and-magnitude variable-length integer, and a canonical pack/unpack
byte representation per value type (int, float, string, blob, ref,
container, multiset, struct). This is the sole bridge between the
in-memory value union in pkg/types and the bytes that cross the wire
or land in a checkpoint record.

The varint format matches the one used throughout the retrieved ADLB
source: little-endian, first byte splits into 6 magnitude bits, a sign
bit, and a continuation bit; each following byte contributes 7
magnitude bits and a continuation bit. Ten bytes is always enough for
an int64.
*/
package codec
