// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/howeyc/gopass"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/n0ot/teamchat/pkg/protocol"
	"github.com/n0ot/teamchat/pkg/server"
)

const defaultPort = "6837"

var (
	statsPort              string
	statsDisableTLS        bool
	skipTLSVerification    bool
	statsServerCertificate string
	statsPassword          string
	promptForPassword      bool
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats [host]",
	Short: "Print stats from a teamchat server",
	Long: `stats queries a teamchat server for running stats.

If the host is omitted, the local teamchat server will be queried.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := "127.0.0.1"
		if len(args) > 0 {
			host = args[0]
			if statsDisableTLS {
				fmt.Fprintln(os.Stderr, "Warning: TLS is disabled. All traffic including your stats password will be sent in the clear.")
			} else if skipTLSVerification {
				fmt.Fprintln(os.Stderr, "Warning: skipping TLS verification is insecure.")
			}
		} else {
			// Use the options from the local server's configuration.
			if _, port, err := net.SplitHostPort(viper.GetString("server.bind")); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: cannot determine local server port from config; using \"%s\"\n", statsPort)
			} else {
				statsPort = port
			}
			statsDisableTLS = !viper.GetBool("tls.useTls")
			skipTLSVerification = true
			statsPassword = viper.GetString("server.statsPassword")
			if !statsDisableTLS {
				fmt.Fprintln(os.Stderr, "Skipping TLS verification for local server query")
			}
		}
		return getStats(host)
	},
}

func init() {
	RootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&statsPort, "port", "P", defaultPort, "port of the server to query stats for")
	statsCmd.Flags().BoolVarP(&statsDisableTLS, "disable-tls", "d", false, "disable connecting over TLS")
	statsCmd.Flags().BoolVarP(&skipTLSVerification, "no-tls-verify", "n", false, "skip TLS verification\n    This is insecure, an attacker can get your password, and you should only use this for testing")
	statsCmd.Flags().StringVarP(&statsServerCertificate, "server-certificate", "s", "", "file containing the PEM encoded certificate to use for server verification, instead of the system's certificate store")
	statsCmd.Flags().BoolVarP(&promptForPassword, "prompt-for-password", "p", false, "prompt for the server's stats password\n    If unset, the password is the same as the local server's.")
}

func getStats(statsHost string) error {
	if promptForPassword {
		fmt.Printf("Password: ")
		pass, err := gopass.GetPasswd()
		if err != nil {
			return err
		}
		statsPassword = string(pass)
	}

	if statsPassword == "" {
		statsPassword = os.Getenv("TEAMCHAT_STATS_PASSWORD")
	}

	if statsPassword == "" {
		return errors.New("A stats password is required")
	}

	scheme := "https"
	transport := &http.Transport{}
	if statsDisableTLS {
		scheme = "http"
	} else {
		var certPool *x509.CertPool
		if statsServerCertificate != "" {
			cert, err := os.ReadFile(statsServerCertificate)
			if err != nil {
				return errors.Wrap(err, "Open server certificate")
			}
			certPool = x509.NewCertPool()
			certPool.AppendCertsFromPEM(cert)
		}
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipTLSVerification,
			RootCAs:            certPool,
		}
	}
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}

	statsAddr := net.JoinHostPort(statsHost, statsPort)
	req, err := http.NewRequest(http.MethodGet, scheme+"://"+statsAddr+"/stats", nil)
	if err != nil {
		return errors.Wrap(err, "Request stats")
	}
	req.Header.Set(server.StatsPasswordHeader, statsPassword)

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "Connect to teamchat server")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var httpErr protocol.HTTPError
		if err := json.NewDecoder(resp.Body).Decode(&httpErr); err != nil || httpErr.Error == "" {
			return errors.Errorf("Server returned %s", resp.Status)
		}
		return errors.Errorf("Server returned an error: %s", httpErr.Error)
	}

	var stats server.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return errors.Wrap(err, "Get stats response from server")
	}

	// Don't display the default port in the output.
	friendlyAddr := statsHost
	if statsPort != defaultPort {
		friendlyAddr = statsAddr
	}
	fmt.Printf(`Stats for %s:
Uptime: %s
Number of rooms: %d
Max rooms: %d on %s

Number of clients: %d
Max clients: %d on %s
`, friendlyAddr, stats.Uptime,
		stats.NumRooms,
		stats.MaxRooms, stats.MaxRoomsTime,
		stats.NumClients,
		stats.MaxClients, stats.MaxClientsTime)
	return nil
}
