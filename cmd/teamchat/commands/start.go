// Copyright © 2018 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/n0ot/teamchat/pkg/server"
	"github.com/n0ot/teamchat/pkg/store"
	"github.com/n0ot/teamchat/pkg/store/sqlite"
)

var disableTLS bool

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the teamchat server",
	RunE:  runServer,
}

func init() {
	RootCmd.AddCommand(startCmd)

	startCmd.Flags().StringP("bind", "b", "127.0.0.1:6837", "Bind the server to host:port. Leave host empty to bind to all interfaces.")
	viper.BindPFlag("server.bind", startCmd.Flags().Lookup("bind"))
	startCmd.Flags().IntP("time-between-pings", "t", 30, "How often pings should be sent in seconds (0 disables)")
	viper.BindPFlag("server.timeBetweenPings", startCmd.Flags().Lookup("time-between-pings"))
	startCmd.Flags().StringP("store", "s", "", "SQLite database for room history (default keeps history in memory)")
	viper.BindPFlag("store.path", startCmd.Flags().Lookup("store"))
	startCmd.Flags().BoolVarP(&disableTLS, "disable-tls", "d", false, "Overrides config option to enable TLS")

	viper.SetDefault("server.statsPassword", "")
	viper.SetDefault("server.resolveHosts", true)
	viper.SetDefault("tls.useTls", true)
}

func runServer(cmd *cobra.Command, args []string) error {
	log := newLogger()

	secret := viper.GetString("auth.secret")
	if secret == "" {
		return errors.New("auth.secret must be set (in the config file, or with TEAMCHAT_AUTH_SECRET)")
	}

	history, err := openStore(os.ExpandEnv(viper.GetString("store.path")), log)
	if err != nil {
		return err
	}
	defer history.Close()

	srv := &server.Server{
		TimeBetweenPings: viper.GetDuration("server.timeBetweenPings") * time.Second,
		StatsPassword:    viper.GetString("server.statsPassword"),
		ResolveHosts:     viper.GetBool("server.resolveHosts"),
		Authenticator: &server.JWTAuthenticator{
			Secret: []byte(secret),
			Issuer: viper.GetString("auth.issuer"),
		},
		Store: history,
		Log:   log,
	}

	bindAddr := viper.GetString("server.bind")
	certFile := os.ExpandEnv(viper.GetString("tls.certFile"))
	keyFile := os.ExpandEnv(viper.GetString("tls.keyFile"))
	useTLS := viper.GetBool("tls.useTls")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithField("error", err).Warn("Clients did not disconnect in time")
		}
	}()

	log.Info("Starting teamchat")
	if useTLS && !disableTLS {
		err = srv.ListenAndServeTLS(bindAddr, certFile, keyFile)
	} else {
		err = srv.ListenAndServe(bindAddr)
	}
	if err != nil {
		return err
	}
	// Serving stops as soon as shutdown begins; clients drain before the store is closed.
	<-shutdownDone
	return nil
}

// openStore opens the SQLite history at path, or an in-memory one if path is empty.
func openStore(path string, log *logrus.Logger) (store.Store, error) {
	if path == "" {
		return store.NewMemory(), nil
	}
	history, err := sqlite.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Open history store")
	}
	log.WithField("path", path).Info("Opened history store")
	return history, nil
}
