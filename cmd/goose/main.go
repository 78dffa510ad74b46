// See: https://github.com/pressly/goose/blob/master/examples/go-migrations/main.go

package main

import (
	"flag"
	"log"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/laytan/tubescriber/internal/store/migrations"
)

var (
	flags  = flag.NewFlagSet("goose", flag.ExitOnError)
	driver = flags.String("driver", "sqlite3", "database driver, sqlite3 or postgres")
)

// usage: goose [-driver postgres] DSN COMMAND [ARGS...]
func main() {
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 2 {
		flags.Usage()
		return
	}

	dbstring, command := args[0], args[1]

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(*driver); err != nil {
		log.Fatalf("goose: %v\n", err)
	}

	db, err := goose.OpenDBWithDriver(*driver, dbstring)
	if err != nil {
		log.Fatalf("goose: failed to open DB: %v\n", err)
	}

	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("goose: failed to close DB: %v\n", err)
		}
	}()

	arguments := []string{}
	if len(args) > 2 {
		arguments = append(arguments, args[2:]...)
	}

	if err := goose.Run(command, db, ".", arguments...); err != nil {
		log.Fatalf("goose %v: %v", command, err)
	}
}
