/*
Package view materializes the shared filename to blob mapping of a gallery space
by replaying the global order of a LogSet through the merge engine.

Merge semantics are fixed: AddWriter operations extend the authorized writer set,
PutFile operations store a blob reference under their filename unless that
filename already exists (first write wins). Apply is pure with respect to its
inputs, so replaying the same order prefix always yields the same Store.
*/
package view
