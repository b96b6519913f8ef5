// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/howeyc/gopass"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/n0ot/teamchat/pkg/history"
	"github.com/n0ot/teamchat/pkg/protocol"
	"github.com/n0ot/teamchat/pkg/realtime"
	"github.com/n0ot/teamchat/pkg/timeline"
)

var (
	chatToken       string
	promptForToken  bool
	historyPageSize int
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat <room>",
	Short: "Join a room and chat from the terminal",
	Long: `chat connects to a teamchat server, joins a room, and prints its messages.

Lines typed on standard input are sent to the room. The following commands are also available:
  /more    load older messages
  /typing  tell the room you are typing
  /read    mark everything shown as read
  /quit    leave the room`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(args[0], os.Stdin, os.Stdout)
	},
}

func init() {
	RootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("server", "ws://127.0.0.1:6837/ws", "websocket URL of the teamchat server")
	viper.BindPFlag("client.server", chatCmd.Flags().Lookup("server"))
	chatCmd.Flags().StringVarP(&chatToken, "token", "t", "", "access token; if unset, the saved token file is used")
	chatCmd.Flags().BoolVarP(&promptForToken, "prompt-token", "p", false, "prompt for the access token")
	chatCmd.Flags().IntVarP(&historyPageSize, "history", "H", 20, "number of messages to load at a time")
}

func runChat(roomID string, in io.Reader, out io.Writer) error {
	log := newLogger()

	tokens, err := chatTokenSource()
	if err != nil {
		return err
	}
	token, err := tokens.Token()
	if err != nil {
		return err
	}
	userID, err := tokenSubject(token)
	if err != nil {
		return err
	}

	serverURL := viper.GetString("client.server")
	baseURL, err := httpBase(serverURL)
	if err != nil {
		return err
	}
	api := &history.Client{BaseURL: baseURL, Token: token}
	lines := timeline.New(userID)

	ch, err := realtime.New(realtime.Config{
		URL:    serverURL,
		RoomID: roomID,
		Tokens: tokens,
		Log:    log,
	})
	if err != nil {
		return err
	}
	defer func() {
		ch.Dispose()
		<-ch.Done()
	}()

	ch.Subscribe(protocol.TypeMessage, func(ev realtime.Event) {
		chat, err := protocol.DecodeChat(ev.Payload)
		if err != nil {
			log.WithField("error", err).Warn("Ignoring malformed chat event")
			return
		}
		if lines.Confirm(chat.Message) {
			printMessage(out, chat.Message)
		}
	})
	ch.Subscribe(protocol.TypeTyping, func(ev realtime.Event) {
		typing, err := protocol.DecodeTyping(ev.Payload)
		if err != nil {
			return
		}
		fmt.Fprintf(out, "* %s is typing\n", typing.UserID)
	})
	ch.Watch(watchStatus(out))

	loadOlder := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		page, err := api.Before(ctx, roomID, lines.Oldest(), historyPageSize)
		if err != nil {
			fmt.Fprintf(out, "! Cannot load history: %s\n", err)
			return
		}
		if lines.Prepend(page.Messages) == 0 {
			fmt.Fprintln(out, "* No older messages")
			return
		}
		for _, msg := range page.Messages {
			printMessage(out, msg)
		}
		if page.HasMore {
			fmt.Fprintln(out, "* Type /more for older messages")
		}
	}

	markRead := func() {
		seq := lines.Latest()
		if seq == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := api.MarkRead(ctx, roomID, seq); err != nil {
			log.WithField("error", err).Warn("Cannot mark messages read")
		}
	}
	defer markRead()

	loadOlder()
	if err := ch.Connect(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/more":
			loadOlder()
		case "/typing":
			if !ch.SendTyping() {
				fmt.Fprintf(out, "! Not connected (%s)\n", ch.State())
			}
		case "/read":
			markRead()
		default:
			clientID := lines.AddPending(line)
			if !ch.SendMessageWithID(line, clientID) {
				lines.Fail(clientID)
				fmt.Fprintf(out, "! Not sent, %s: %s\n", ch.State(), line)
			}
		}
	}
	return scanner.Err()
}

func watchStatus(out io.Writer) func(realtime.Status) {
	var last realtime.Status
	return func(s realtime.Status) {
		if s.State != last.State {
			switch {
			case s.State == realtime.StateReady:
				fmt.Fprintln(out, "* Connected")
			case s.Err != nil:
				fmt.Fprintf(out, "* %s: %s\n", s.State, s.Err)
			default:
				fmt.Fprintf(out, "* %s\n", s.State)
			}
		}
		if strings.Join(s.Participants, ",") != strings.Join(last.Participants, ",") && len(s.Participants) > 0 {
			fmt.Fprintf(out, "* In the room: %s\n", strings.Join(s.Participants, ", "))
		}
		last = s
	}
}

func printMessage(out io.Writer, msg protocol.ChatMessage) {
	fmt.Fprintf(out, "[%s] %s: %s\n", msg.SentAt.Local().Format("15:04"), msg.SenderID, msg.Content)
}

func chatTokenSource() (realtime.TokenSource, error) {
	if promptForToken {
		fmt.Printf("Token: ")
		pass, err := gopass.GetPasswd()
		if err != nil {
			return nil, err
		}
		return realtime.StaticToken(pass), nil
	}
	if chatToken != "" {
		return realtime.StaticToken(chatToken), nil
	}
	path := os.ExpandEnv(viper.GetString("client.tokenFile"))
	logrus.WithField("path", path).Debug("Using saved token")
	return realtime.FileToken(path), nil
}

// tokenSubject reads the user ID out of a token without verifying it.
// The server verifies the token; the client only needs to know who it is.
func tokenSubject(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", errors.Wrap(err, "Read token")
	}
	if claims.Subject == "" {
		return "", errors.New("Token has no subject")
	}
	return claims.Subject, nil
}

// httpBase derives the REST API root from the websocket URL.
func httpBase(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", errors.Wrap(err, "Parse server URL")
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", errors.Errorf("Server URL must start with ws or wss, not %q", u.Scheme)
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), nil
}
