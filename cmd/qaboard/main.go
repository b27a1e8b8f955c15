// Command qaboard runs the Q&A board backend.
//
//	@title						Q&A Board API
//	@version					1.0
//	@description				Questions, answers, votes, accepted answers and notifications.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"os"

	"github.com/tbourn/go-qa-backend/internal/cli"
	"github.com/tbourn/go-qa-backend/internal/sysutil"

	_ "github.com/tbourn/go-qa-backend/docs"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version string

func main() {
	if err := cli.Execute(sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")); err != nil {
		os.Exit(1)
	}
}
