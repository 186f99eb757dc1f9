package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/sippy/Sippy-Recorder/internal"
	"github.com/sippy/Sippy-Recorder/internal/appstats"
	"github.com/sippy/Sippy-Recorder/internal/config"
	"github.com/sippy/Sippy-Recorder/internal/pubsub"
	"github.com/sippy/Sippy-Recorder/internal/relay"
	"github.com/sippy/Sippy-Recorder/internal/server"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

var (
	app config.App

	flags struct {
		config  string
		dump    string
		help    bool
		version bool
	}

	cfg *config.Config
	ps  pubsub.PubSub
	sv  *server.Server
	sf  *server.SIPFrontend
)

func Init() {
	app.Name = internal.AppName
	app.Version = internal.AppVersion
	app.LongName = fmt.Sprintf("%s %s", app.Name, app.Version)
	app.InstanceId = uuid.New().String()

	flag.StringVarP(&flags.config, "config", "c", flags.config, "load configuration file")
	flag.StringVar(&flags.dump, "dump", "", "print config value (e.g. 'sip.port')")
	flag.BoolVarP(&flags.help, "help", "h", flags.help, "print help")
	flag.BoolVarP(&flags.version, "version", "v", flags.version, "print version")
	flag.Parse()

	if flags.help {
		fmt.Printf("%s\n\n", app.LongName)
		flag.PrintDefaults()
		shutdown(0)
	}

	if flags.version {
		fmt.Println(app.LongName)
		shutdown(0)
	}

	if flags.dump != "" {
		log.SetLevel(log.FatalLevel)
		cfg = initConfig()
		loadConfig()
		dumpConfig()
	}

	cfg = initConfig()
	log.Infof("Starting %s PID: %d", app.Name, os.Getpid())
	loadConfig()
	configureLog()
	sigintHandler()
	sighupHandler()
}

func Run() {
	appstats.Init()

	if cfg.Prometheus.Enable {
		appstats.ServePromMetrics(cfg.Prometheus)
	}

	var err error

	if ps, err = pubsub.NewPubSub(cfg.PubSub); err != nil {
		log.Fatalf("failed to create pubsub: %s", err)
	}

	if err := ps.Check(); err != nil {
		log.Fatalf("failed to connect to pubsub: %s", err)
	}

	relays, err := relay.New(cfg.Relay)
	if err != nil {
		log.Fatalf("failed to create relay client: %s", err)
	}

	if err := relays.Check(); err != nil {
		log.Fatalf("failed to connect to media relay: %s", err)
	}

	if sv, err = server.NewServer(cfg, ps, relays); err != nil {
		log.Fatalf("failed to create server: %s", err)
	}

	if cfg.HTTP.Enable {
		hs := server.NewHTTPServer(cfg, sv)
		hs.Serve()
	}

	if sf, err = server.NewSIPFrontend(cfg, sv); err != nil {
		log.Fatalf("failed to create SIP frontend: %s", err)
	}

	go func() {
		if err := sf.ListenAndServe(context.Background()); err != nil {
			log.Fatalf("SIP listener failed: %s", err)
		}
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warnf("failed to notify readiness to systemd: %s", err)
	}

	if err := ps.Subscribe(cfg.PubSub.Channels.Subscribe, sv.HandlePubSub, sv.OnStart); err != nil {
		log.Fatalf("failed to subscribe to pubsub %s: %s", cfg.PubSub.Channels.Subscribe, err)
	}
}

func shutdown(code int) {
	if sv != nil {
		if err := sv.Close(); err != nil {
			log.Errorf("failed to close server: %s", err)
		}
	}

	if sf != nil {
		if err := sf.Close(); err != nil {
			log.Errorf("failed to close SIP frontend: %s", err)
		}
	}

	if ps != nil {
		if err := ps.Close(); err != nil {
			log.Errorf("failed to close pubsub: %s", err)
		}
	}

	os.Exit(code)
}

func sighupHandler() {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-sighup:
				log.Debug("reloading config...")
				loadConfig()
				configureLog()
			}
		}
	}()
}

func sigintHandler() {
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)
	go func() {
		<-sigint
		shutdown(0)
	}()
}
