package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terminly/terminly/internal/credentials"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a token encryption key",
		Long: `Generate a random 32-byte AES-256 key, base64 encoded, for use as
TOKEN_ENCRYPTION_KEY. The key must stay stable across restarts or stored
calendar credentials become unreadable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := credentials.GenerateEncryptionKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			fmt.Println(credentials.EncryptionKeyToBase64(key))
			return nil
		},
	}
}
