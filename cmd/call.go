package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/qrave1/voicelink/internal/application/config"
	"github.com/qrave1/voicelink/internal/application/constant"
	"github.com/qrave1/voicelink/internal/domain/events"
	"github.com/qrave1/voicelink/internal/peer"
	"github.com/qrave1/voicelink/internal/signaling"
)

var (
	callServerURL string
	callRoomID    string
	callCreate    bool
	callUserName  string
	callPassword  string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Join a voice room as a client",
	Run: func(cmd *cobra.Command, args []string) {
		runCall()
	},
}

func init() {
	callCmd.Flags().StringVar(&callServerURL, "server", "ws://localhost:3000/ws", "signaling server websocket URL")
	callCmd.Flags().StringVar(&callRoomID, "room", "", "room id to join")
	callCmd.Flags().BoolVar(&callCreate, "create", false, "create the room if it does not exist")
	callCmd.Flags().StringVar(&callUserName, "name", "", "display name")
	callCmd.Flags().StringVar(&callPassword, "password", "", "room password")

	rootCmd.AddCommand(callCmd)
}

func runCall() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	client := signaling.NewClient(signaling.Options{
		URL:      callServerURL,
		UserName: callUserName,
	})
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		slog.Error("connect to signaling server", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	var room signaling.RoomInfo
	if callRoomID == "" {
		room, err = client.CreateRoom(ctx, callUserName)
	} else {
		room, err = client.JoinRoom(ctx, callRoomID, signaling.JoinOptions{
			Create:   callCreate,
			Password: callPassword,
		})
	}
	if err != nil {
		slog.Error("enter room", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	slog.Info(
		"joined room",
		slog.String(constant.RoomID, room.ID),
		slog.Int("users", len(room.Users)),
	)

	coordinator := peer.NewCoordinator(client.UserID(), client, cfg.ICEServers())
	defer coordinator.Close()

	// Связываемся со всеми, кто уже в комнате.
	for _, u := range room.Users {
		if u.ID == client.UserID() {
			continue
		}
		if err := coordinator.EnsurePeer(u.ID); err != nil {
			slog.Warn(
				"ensure peer",
				slog.String(constant.PeerID, u.ID),
				slog.Any(constant.Error, err),
			)
		}
	}

	for {
		select {
		case <-ctx.Done():
			client.Leave()
			return

		case ev := <-client.Events():
			switch m := ev.(type) {
			case signaling.Disconnected:
				slog.Warn("signaling connection lost, reconnecting")
			case signaling.ReconnectExhausted:
				slog.Error("signaling reconnect exhausted", slog.Any(constant.Error, m.Err))
				return
			case *events.UserJoined:
				if err := coordinator.EnsurePeer(m.User.ID); err != nil {
					slog.Warn(
						"ensure peer",
						slog.String(constant.PeerID, m.User.ID),
						slog.Any(constant.Error, err),
					)
				}
			case *events.UserLeft:
				coordinator.ClosePeer(m.UserID)
			case *events.Signal:
				if err := coordinator.HandleSignal(m.From, m.Data); err != nil {
					slog.Warn(
						"handle signal",
						slog.String(constant.PeerID, m.From),
						slog.Any(constant.Error, err),
					)
				}
			case *events.UserSpeaking:
				slog.Debug(
					"user speaking",
					slog.String(constant.UserID, m.UserID),
					slog.Bool("speaking", m.Speaking),
				)
			case *events.RoomClosed:
				slog.Info("room closed", slog.String(constant.RoomID, m.RoomID))
				return
			case *events.Error:
				slog.Warn(
					"signaling error",
					slog.String("code", m.Code),
					slog.String("message", m.Message),
				)
			}

		case ev := <-coordinator.Events():
			switch m := ev.(type) {
			case peer.PeerConnected:
				slog.Info("peer connected", slog.String(constant.PeerID, m.PeerID))
			case peer.PeerDisconnected:
				slog.Info("peer disconnected", slog.String(constant.PeerID, m.PeerID))
			case peer.ConnectTimeout:
				slog.Warn("peer connect timeout", slog.String(constant.PeerID, m.PeerID))
			case peer.DataMessage:
				slog.Info(
					"peer message",
					slog.String(constant.PeerID, m.PeerID),
					slog.String(constant.MsgType, m.Msg.Type),
				)
			}
		}
	}
}
