// Command mint-token issues a signed bearer token for local development.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/freshgroup/dashboard/backend/auth"
	"github.com/freshgroup/dashboard/backend/config"
)

func main() {
	id := flag.String("id", "1", "User ID placed in the token subject")
	role := flag.String("role", auth.RoleAdmin, "Role claim (Admin or Viewer)")
	ttl := flag.Duration("ttl", 12*time.Hour, "Token lifetime")
	flag.Parse()

	if *role != auth.RoleAdmin && *role != auth.RoleViewer {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.NewIssuer(settings.JWTSecret, *ttl).Issue(auth.Principal{ID: *id, Role: *role})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
