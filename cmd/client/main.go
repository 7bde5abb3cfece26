// Package main is a headless room call client: it joins a room on the relay,
// places or answers calls from stdin commands and records what the other
// side sends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/roomcall/roomcall/pkg/call"
	"github.com/roomcall/roomcall/pkg/identity"
	log "github.com/roomcall/roomcall/pkg/logger"
	"github.com/roomcall/roomcall/pkg/media"
	"github.com/roomcall/roomcall/pkg/media/device"
	"github.com/roomcall/roomcall/pkg/signaling"
	"github.com/roomcall/roomcall/pkg/sink"
)

type signalConfig struct {
	signaling.Config `mapstructure:",squash"`
	Room             string `mapstructure:"room"`
	Token            string `mapstructure:"token"`
}

// mediaConfig picks the local source: "device" (camera and microphone) or
// "file" (looped IVF and OGG files).
type mediaConfig struct {
	device.Config `mapstructure:",squash"`
	Source        string `mapstructure:"source"`
	VideoFile     string `mapstructure:"videofile"`
	AudioFile     string `mapstructure:"audiofile"`
}

type callConfig struct {
	AutoAnswer bool `mapstructure:"autoanswer"`
}

// Config of the client.
type Config struct {
	Signal    signalConfig      `mapstructure:"signal"`
	WebRTC    call.WebRTCConfig `mapstructure:"webrtc"`
	Media     mediaConfig       `mapstructure:"media"`
	Record    sink.Config       `mapstructure:"record"`
	Call      callConfig        `mapstructure:"call"`
	LogConfig log.GlobalConfig  `mapstructure:"log"`
}

var (
	conf       = Config{}
	file       string
	room       string
	token      string
	url        string
	level      string
	autoAnswer bool

	logger = log.New()
)

func showHelp() {
	fmt.Printf("Usage:%s {params}\n", os.Args[0])
	fmt.Println("      -c {config file}")
	fmt.Println("      -room {room id}")
	fmt.Println("      -token {relay credential}")
	fmt.Println("      -url {relay base url, e.g. ws://localhost:8000}")
	fmt.Println("      -l {trace|debug|info|warn|error}")
	fmt.Println("      -autoanswer (answer incoming calls)")
	fmt.Println("      -h (show help info)")
}

func load() bool {
	_, err := os.Stat(file)
	if err != nil {
		return false
	}

	viper.SetConfigFile(file)
	viper.SetConfigType("toml")

	err = viper.ReadInConfig()
	if err != nil {
		logger.Error(err, "config file read failed", "file", file)
		return false
	}
	err = viper.GetViper().Unmarshal(&conf)
	if err != nil {
		logger.Error(err, "client config file loaded failed", "file", file)
		return false
	}

	if _, err := call.NewTransportConfig(conf.WebRTC); err != nil {
		logger.Error(err, "config file loaded failed. bad webrtc section", "file", file)
		return false
	}

	logger.V(0).Info("Config file loaded", "file", file)
	return true
}

func parse() bool {
	flag.StringVar(&file, "c", "config.toml", "config file")
	flag.StringVar(&room, "room", "", "room id")
	flag.StringVar(&token, "token", "", "relay credential")
	flag.StringVar(&url, "url", "", "relay base url")
	flag.StringVar(&level, "l", "", "log level")
	flag.BoolVar(&autoAnswer, "autoanswer", false, "answer incoming calls")
	help := flag.Bool("h", false, "help info")
	flag.Parse()

	if !load() {
		return false
	}
	if *help {
		return false
	}

	if room != "" {
		conf.Signal.Room = room
	}
	if token != "" {
		conf.Signal.Token = token
	}
	if url != "" {
		conf.Signal.URL = url
	}
	if level != "" {
		conf.LogConfig.Level = level
	}
	if autoAnswer {
		conf.Call.AutoAnswer = true
	}

	if conf.Signal.URL == "" || conf.Signal.Room == "" {
		logger.Error(nil, "relay url and room are required")
		return false
	}
	return true
}

func newCapturer(c mediaConfig) (media.Capturer, func(*webrtc.MediaEngine) error, error) {
	switch c.Source {
	case "", "device":
		d, err := device.NewCapturer(c.Config)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Codecs, nil
	case "file":
		return media.FileCapturer{VideoFile: c.VideoFile, AudioFile: c.AudioFile}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown media source %q", c.Source)
}

// relaySender forwards session frames to the channel once it exists.
type relaySender struct {
	ch atomic.Pointer[signaling.Channel]
}

func (r *relaySender) Send(v interface{}) {
	if ch := r.ch.Load(); ch != nil {
		ch.Send(v)
	}
}

func main() {
	if !parse() {
		showHelp()
		os.Exit(-1)
	}

	log.SetGlobalOptions(conf.LogConfig)
	logger = log.New()
	call.Logger = logger.WithName("call")
	signaling.Logger = logger.WithName("signaling")
	device.Logger = logger.WithName("device")
	sink.Logger = logger.WithName("sink")

	logger.Info("--- Starting call client ---", "room", conf.Signal.Room)

	capturer, codecs, err := newCapturer(conf.Media)
	if err != nil {
		logger.Error(err, "media source")
		os.Exit(1)
	}
	tc, err := call.NewTransportConfig(conf.WebRTC)
	if err != nil {
		logger.Error(err, "webrtc config")
		os.Exit(1)
	}
	tc.Codecs = codecs

	var rec *sink.Recorder
	if conf.Record.Dir != "" {
		if rec, err = sink.NewRecorder(conf.Record); err != nil {
			logger.Error(err, "recorder")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	selfID, ok := identity.ResolveSelfID(conf.Signal.Token)
	if ok {
		logger.V(1).Info("resolved own participant id", "self_id", selfID)
	}

	sender := &relaySender{}
	var session *call.Session
	session = call.NewSession(call.Config{
		Room:        conf.Signal.Room,
		SelfID:      selfID,
		Signal:      sender,
		Media:       media.NewManager(capturer),
		Connections: call.NewConnectionFactory(tc),
		Observer:    newObserver(ctx, &session, rec, conf.Call.AutoAnswer),
	})

	ch := signaling.Open(conf.Signal.Config, conf.Signal.Room, conf.Signal.Token, signaling.Handlers{
		OnOpen:    func() { session.TransportChanged(call.TransportStatus{Open: true}) },
		OnMessage: session.HandleMessage,
		OnError:   func(err error) { session.TransportChanged(call.TransportStatus{Err: err}) },
		OnClose:   func(reason error) { session.TransportChanged(call.TransportStatus{Err: reason}) },
	})
	sender.ch.Store(ch)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		con := &console{c: session, out: os.Stdout}
		return con.run(ctx, os.Stdin)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-ch.Done():
			return errRelayClosed
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		logger.Error(err, "client stopped")
	}
	stop()

	session.Close()
	ch.Close()
	if rec != nil {
		rec.Wait()
	}
	logger.Info("--- Call client stopped ---")
}
