// Command relaudit audits and repairs the relationship graph from the command
// line, against the same database the server uses.
//
// Examples:
//
//	relaudit run --dry-run
//	relaudit run --batch-size 200 --archive -o json
//	relaudit pair u1 u2 --intent removed
//	relaudit report relationships/2026/03/07/audit-20260307T040506Z-live-1a2b3c4d.json
//	relaudit migrate up
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
