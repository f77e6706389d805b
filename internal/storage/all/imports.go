// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. It makes these kinds available:
//
//   - "dynamodb" (lander/internal/storage/dynamodb)
//   - "postgres" (lander/internal/storage/postgres)
//   - "sqlite"   (lander/internal/storage/sqlite)
//
// Typical usage:
//
//	import _ "lander/internal/storage/all"
//
//	st, err := storage.New(ctx, storage.Config{Kind: cfg.StorageKind, DSN: cfg.StorageDSN})
//	if err != nil {
//	    // handle error
//	}
//	defer st.Close()
package all

import (
	_ "lander/internal/storage/dynamodb"
	_ "lander/internal/storage/postgres"
	_ "lander/internal/storage/sqlite"
)
