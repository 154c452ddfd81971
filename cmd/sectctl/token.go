package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgo/sect/pkg/jwt"
)

func newTokenCmd() *cobra.Command {
	var (
		keyPath    string
		userID     string
		role       string
		issuer     string
		expMins    int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Example: `  sectctl token --user disciple-1
  sectctl token --user ops --role admin --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if role != jwt.RoleMember && role != jwt.RoleAdmin {
				return fmt.Errorf("role must be %q or %q", jwt.RoleMember, jwt.RoleAdmin)
			}

			jwtService, err := jwt.NewService(jwt.Config{
				PrivateKeyPath: keyPath,
				Issuer:         issuer,
				ExpirationMins: expMins,
			})
			if err != nil {
				return fmt.Errorf("create JWT service (generate keys with: sectctl keypair): %w", err)
			}

			token, err := jwtService.Sign(jwt.Claims{UserID: userID, Role: role})
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"access_token": token,
					"token_type":   "Bearer",
					"expires_in":   int(jwtService.GetExpiration().Seconds()),
					"user_id":      userID,
					"role":         role,
				})
			}

			fmt.Fprintf(out, "User ID:  %s\n", userID)
			fmt.Fprintf(out, "Role:     %s\n", role)
			fmt.Fprintf(out, "Expires:  %s\n", time.Now().Add(jwtService.GetExpiration()).Format(time.RFC3339))
			fmt.Fprintln(out)
			fmt.Fprintln(out, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "./keys/private.pem", "Path to the JWT private key")
	cmd.Flags().StringVar(&userID, "user", "dev-user", "User ID for the token")
	cmd.Flags().StringVar(&role, "role", jwt.RoleMember, "Role: member or admin")
	cmd.Flags().StringVar(&issuer, "issuer", "sect.forgo.software", "JWT issuer")
	cmd.Flags().IntVar(&expMins, "exp", 60*24*7, "Token lifetime in minutes")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	return cmd
}

func newKeypairCmd() *cobra.Command {
	var privatePath, publicPath string

	cmd := &cobra.Command{
		Use:     "keypair",
		Short:   "Generate an RSA key pair for signing tokens",
		Example: `  sectctl keypair --private ./keys/private.pem --public ./keys/public.pem`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, path := range []string{privatePath, publicPath} {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return fmt.Errorf("create key directory: %w", err)
				}
			}
			if err := jwt.GenerateKeyPair(privatePath, publicPath); err != nil {
				return fmt.Errorf("generate key pair: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "private: %s\npublic:  %s\n", privatePath, publicPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&privatePath, "private", "./keys/private.pem", "Where to write the private key")
	cmd.Flags().StringVar(&publicPath, "public", "./keys/public.pem", "Where to write the public key")
	return cmd
}
