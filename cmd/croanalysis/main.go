// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command croanalysis is the single binary for the CRO Analysis Core: an
// HTTP server plus a handful of one-shot operator subcommands that share
// the server's wiring, following cmd/aleutian/main.go's
// "root cobra command, one file per subcommand group" layout.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("croanalysis: %v", err)
	}
}
