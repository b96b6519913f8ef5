// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/n0ot/teamchat/pkg/realtime"
	"github.com/n0ot/teamchat/pkg/server"
)

var (
	tokenRooms []string
	tokenTTL   time.Duration
	saveToken  bool
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token <user>",
	Short: "Mint an access token for a user",
	Long: `token signs an access token with the server's auth.secret.

The token is printed, or with --save, written to the token file used by chat.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("auth.secret")
		if secret == "" {
			return errors.New("auth.secret must be set to mint tokens")
		}
		auth := &server.JWTAuthenticator{
			Secret: []byte(secret),
			Issuer: viper.GetString("auth.issuer"),
		}
		token, err := auth.IssueToken(args[0], tokenRooms, tokenTTL)
		if err != nil {
			return err
		}

		if !saveToken {
			fmt.Println(token)
			return nil
		}
		tokenFile := os.ExpandEnv(viper.GetString("client.tokenFile"))
		if err := realtime.SaveToken(tokenFile, token); err != nil {
			return err
		}
		fmt.Printf("Token for %s saved to %s\n", args[0], tokenFile)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringSliceVarP(&tokenRooms, "room", "r", nil, "restrict the token to a room (repeatable; default allows every room)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "how long the token stays valid")
	tokenCmd.Flags().BoolVar(&saveToken, "save", false, "save the token to the token file instead of printing it")
}
