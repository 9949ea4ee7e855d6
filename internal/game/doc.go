// Package game defines the catalogue record and its decode boundary.
//
// Remote documents arrive as loosely typed field maps. Decode turns one of
// them into a Record, enforcing the record invariants:
//   - ID is non-empty
//   - Read defaults to false when neither encoding is present
//   - display strings are NFC normalized
//
// # Status encodings
//
// The canonical status is the boolean "read" field. Older documents carry a
// string "status" field instead, with the values "Nouveau" (new) and "Lu"
// (read). Decode maps the legacy string onto the boolean; the legacy field is
// never written back.
package game
