// kit-token mints a bearer token signed with JWT_SECRET.
//
// Usage:
//
//	kit-token -user alice [-ttl 720h] [-refresh]
package main

import (
	"flag"
	"fmt"
	"os"

	"kit-notes-server/internal/config"
	"kit-notes-server/pkg/jwt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	userID := flag.String("user", "", "user id to put in the token (required)")
	ttl := flag.Duration("ttl", cfg.Auth.Expiration, "token lifetime")
	refresh := flag.Bool("refresh", false, "mint a refresh token instead of an access token")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		flag.Usage()
		os.Exit(2)
	}
	if !cfg.Auth.Enabled() {
		fmt.Fprintln(os.Stderr, "Error: JWT_SECRET is not set")
		os.Exit(1)
	}

	var token string
	if *refresh {
		if !isFlagSet("ttl") {
			*ttl = cfg.Auth.RefreshTokenExpiration
		}
		token, err = jwt.GenerateRefreshToken(*userID, *ttl, cfg.Auth.Secret)
	} else {
		token, err = jwt.GenerateToken(*userID, *ttl, cfg.Auth.Secret)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
