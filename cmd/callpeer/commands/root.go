package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/enochaseks/sideeye/config"
	"github.com/enochaseks/sideeye/internal/logging"
	"github.com/enochaseks/sideeye/internal/media"
	"github.com/enochaseks/sideeye/internal/realtime"
	"github.com/enochaseks/sideeye/internal/rtc"
	"github.com/enochaseks/sideeye/internal/signaling"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ErrCallFailed is returned when the connection cannot be recovered.
var ErrCallFailed = errors.New("call failed")

// NewRootCmd returns the command that joins a room as a native peer.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "callpeer",
		Short: "Join a SideEye room as a native WebRTC peer",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), v)
		},
	}
	AddFlags(cmd)
	return cmd
}

// AddFlags adds the call flags to cmd
func AddFlags(cmd *cobra.Command) {
	cmd.Flags().String("room", "", "Room ID to join")
	cmd.Flags().String("self", "", "Peer ID of this client (random when empty)")
	cmd.Flags().String("peer", "", "Peer ID of the remote participant")
	cmd.Flags().Bool("screen", false, "Share the screen instead of the camera")
	cmd.Flags().Bool("audio-only", false, "Send audio without video")
	cmd.Flags().Bool("offer", false, "Send the first offer instead of waiting for one")
	cmd.Flags().String("log", "", "debug, info, warn, error (defaults to LOG_LEVEL)")
}

// bindFlags registers the flags with viper so each can also be set through
// a CALLPEER_ environment variable.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("callpeer")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if v.GetString("room") == "" {
		return errors.New("--room is required")
	}
	if v.GetString("peer") == "" {
		return errors.New("--peer is required")
	}
	if v.GetBool("screen") && v.GetBool("audio-only") {
		return errors.New("--screen and --audio-only are mutually exclusive")
	}
	if v.GetString("self") == "" {
		v.Set("self", uuid.New().String())
	}
	return nil
}

func runCall(parent context.Context, v *viper.Viper) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	level := v.GetString("log")
	if level == "" {
		level = cfg.LogLevel
	}
	base := logging.New(level, cfg.Environment)

	selfID, remoteID, roomID := v.GetString("self"), v.GetString("peer"), v.GetString("room")
	logger := base.WithFields(logrus.Fields{
		"room": roomID,
		"self": selfID,
		"peer": remoteID,
	})

	client, err := realtime.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()

	store := realtime.NewRedisStore(client, logger)
	channel := signaling.NewChannel(store, roomID,
		signaling.WithTTL(cfg.Signaling.RecordTTL),
		signaling.WithLogger(logger),
	)

	codecs, err := codecSelector()
	if err != nil {
		logger.WithError(err).Warn("Encoders unavailable, using default codecs")
	}

	pc, err := rtc.NewPeerConnection(cfg.ICE, codecs)
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}

	failed := make(chan struct{})
	coordinator, err := rtc.New(rtc.Config{
		SelfID:         selfID,
		RemoteID:       remoteID,
		Signaler:       channel,
		PeerConnection: pc,
		Logger:         logger,
		Restart:        rtc.RestartPolicyFromConfig(cfg.ICE),
		OnRemoteTrack: func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			logger.WithFields(logrus.Fields{
				"kind":  track.Kind().String(),
				"codec": track.Codec().MimeType,
			}).Info("Receiving remote track")
			go drain(track)
		},
		OnStateChange: func(state webrtc.PeerConnectionState) {
			logger.WithField("state", state.String()).Info("Connection state changed")
		},
		OnFailed: func() { close(failed) },
	})
	if err != nil {
		pc.Close()
		return err
	}
	defer coordinator.Cleanup()

	if err := coordinator.Start(ctx); err != nil {
		return err
	}
	logger.WithField("polite", coordinator.Polite()).Info("Waiting for peer")

	if codecs == nil {
		logger.Warn("Media capture unavailable, continuing receive-only")
	} else if err := sendMedia(ctx, coordinator, media.NewAcquirer(media.NewNativeDevices(codecs), logger), v, logger); err != nil {
		return err
	}

	if v.GetBool("offer") {
		// The polite peer asks for the offer instead. A round the remote
		// peer started may already hold the lock.
		if _, err := coordinator.CreateOffer(ctx); err != nil && !errors.Is(err, rtc.ErrNegotiationInProgress) {
			return err
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("Hanging up")
		return nil
	case <-failed:
		return ErrCallFailed
	}
}

// sendMedia opens the local stream and attaches it to the call. Capture
// failures leave the call receive-only.
func sendMedia(ctx context.Context, coordinator *rtc.Coordinator, acquirer *media.Acquirer, v *viper.Viper, logger logrus.FieldLogger) error {
	stream, err := openStream(ctx, acquirer, v)
	if err != nil {
		var merr *media.Error
		if !errors.As(err, &merr) {
			return err
		}
		logger.WithField("category", merr.Category).Warn(merr.Message() + " Continuing receive-only.")
		return nil
	}
	return coordinator.AddStream(ctx, stream)
}

func openStream(ctx context.Context, acquirer *media.Acquirer, v *viper.Viper) (*media.Stream, error) {
	switch {
	case v.GetBool("screen"):
		return acquirer.ScreenShare(ctx)
	case v.GetBool("audio-only"):
		return acquirer.UserMedia(ctx, media.ProfileAudioOnly)
	default:
		return acquirer.UserMedia(ctx, media.ProfileCall)
	}
}

// drain reads a remote track until it ends so its buffers keep moving.
func drain(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
