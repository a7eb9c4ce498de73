// Command seed provisions local development users and prints a signed
// token for each, so a websocket client can connect without running the
// production account service. It is idempotent: existing users are reused.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-chat-server/internal/auth"
	"github.com/tbourn/go-chat-server/internal/config"
	"github.com/tbourn/go-chat-server/internal/repo"
)

func main() {
	emails := flag.String("users", "alice@example.com,bob@example.com,carol@example.com",
		"comma-separated emails to provision")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.MustLoad()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	verifier := &auth.JWTVerifier{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer}
	titleCaser := cases.Title(language.English)
	ctx := context.Background()

	for _, email := range strings.Split(*emails, ",") {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		u, err := repo.GetUserByEmail(ctx, db, email)
		if errors.Is(err, repo.ErrNotFound) {
			name := strings.SplitN(email, "@", 2)[0]
			u, err = repo.CreateUser(ctx, db, email, titleCaser.String(name), "Dev", "")
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "provision %s: %v\n", email, err)
			os.Exit(1)
		}
		token, err := verifier.Issue(u.ID, u.Email, *ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token for %s: %v\n", email, err)
			os.Exit(1)
		}
		fmt.Printf("%s\t%s\t%s\n", u.ID, u.Email, token)
	}
}
