// Package all wires the built-in storage backends into the storage registry.
// It exists purely for side effects: a blank import makes the "postgres" and
// "sqlite" kinds available to storage.New.
package all

import (
	_ "argoetl/internal/storage/postgres"
	_ "argoetl/internal/storage/sqlite"
)
