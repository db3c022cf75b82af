// Command admintoken mints a signed bearer token for the admin API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mdrennan/bulwark/internal/auth"
)

func main() {
	subject := flag.String("subject", "", "administrator name recorded in the token")
	role := flag.String("role", "admin", "role claim")
	expiry := flag.Duration("expiry", time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: admintoken -subject <name> [-role admin] [-expiry 1h]")
		os.Exit(2)
	}

	_ = godotenv.Load()
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_JWT_SECRET is not set")
		os.Exit(1)
	}

	token, err := auth.NewTokenManager(secret, *expiry).GenerateToken(*subject, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to sign token:", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
