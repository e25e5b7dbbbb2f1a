// Command devtoken mints an access token for local testing, signed with the
// same JWT_SIGNING_KEY and JWT_ISSUER the server validates against.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	jwttoken "certdesk/internal/jwt_token"
	"certdesk/internal/platform/config"
	"certdesk/internal/policy"
	id "certdesk/pkg/domain"
)

func main() {
	var (
		userID = flag.String("user", "", "user id (uuid); a new one is generated when empty")
		role   = flag.String("role", string(policy.RoleUser), "user, clerk, officer or admin")
		email  = flag.String("email", "applicant@example.com", "email claim")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	_ = godotenv.Load()
	var auth config.Auth
	if err := envdecode.Decode(&auth); err != nil {
		log.Fatalf("decode auth config: %v", err)
	}
	if auth.JWTSigningKey == "" {
		log.Fatal(config.ErrMissingJWTKey)
	}
	if _, err := policy.ParseRole(*role); err != nil {
		log.Fatal(err)
	}

	subject := id.NewUserID()
	if *userID != "" {
		parsed, err := id.ParseUserID(*userID)
		if err != nil {
			log.Fatalf("invalid -user: %v", err)
		}
		subject = parsed
	}

	token, err := jwttoken.NewJWTService(auth.JWTSigningKey, auth.JWTIssuer).GenerateAccessToken(subject, *role, *email, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Printf("user_id=%s role=%s\n%s\n", subject, *role, token)
}
