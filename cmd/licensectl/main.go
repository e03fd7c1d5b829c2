// Command licensectl administers license keys directly against the configured
// store.
//
//	licensectl hash-password            read a password on stdin, print its bcrypt hash
//	licensectl hwid                     print this machine's hardware id
//	licensectl generate [-note TEXT]    issue a new key
//	licensectl list                     print every key, newest first
//	licensectl export -format F -o P    write the key list as csv or xlsx
//	licensectl revoke KEY
//	licensectl activate KEY
//	licensectl note KEY TEXT
//	licensectl delete KEY
//	licensectl validate KEY [HWID]      run the client protocol (binds on first use);
//	                                    HWID defaults to this machine's

//
// Configuration is read exactly as licsrv reads it. Every command except
// hash-password and hwid needs a durable store: the memory driver is refused
// because its keys would vanish when the command exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"licsrv/internal/app"
	"licsrv/internal/config"
	"licsrv/internal/hwid"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		loadConfig: config.Load,
		openStore:  app.OpenStore,
		user:       os.Getenv("USER"),
		localHWID:  hwid.Local,
	}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "licensectl:", err)
		if err == errUsage {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

