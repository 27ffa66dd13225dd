/*
Package checkpoint implements the optional persisted checkpoint log of
§6: a block-structured, append-only record stream of {key-length, key,
value-length, value, CRC}, backed by a bbolt database with one bucket
per server rank and sequence-numbered keys. Disabling checkpointing
(an empty path) never opens the database; a corrupted or truncated
record is skipped on reload rather than failing the whole replay.
*/
package checkpoint
