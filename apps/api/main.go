package main

import (
	"context"
	"expvar"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" // register the /debug/pprof handlers

	"go.uber.org/dig"

	dig_container "github.com/JoeMarian/bluedropwithvps/apps/api/di/dig"
	echoapi "github.com/JoeMarian/bluedropwithvps/apps/api/echo"
	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/user"
	emailsvc "github.com/JoeMarian/bluedropwithvps/services/email"
	logsvc "github.com/JoeMarian/bluedropwithvps/services/logger"
	mqttsvc "github.com/JoeMarian/bluedropwithvps/services/mqtt"
)

type appParams struct {
	dig.In
	Conf       *core.Config
	Base       *logsvc.RollbarLogger
	Logger     core.Logger
	DBCloser   io.Closer `name:"dbCloser"`
	UserSvc    user.ServiceInterface
	Subscriber *mqttsvc.Subscriber
	Server     *echoapi.Server
}

func main() {
	c := dig_container.New()
	if err := c.Invoke(run); err != nil {
		log.Fatal(err)
	}
}

func run(p appParams) {
	conf, logger := p.Conf, p.Logger
	defer p.Base.Sync()

	// =========================================================================
	// Initialize App

	logger.Info("application initializing", map[string]interface{}{"build": conf.Build, "env": conf.Env})
	defer logger.Info("application stopped")
	defer emailsvc.Wait()

	defer func() {
		if err := p.DBCloser.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}()

	if admin, created, err := p.UserSvc.EnsureAdmin(context.Background()); err != nil {
		logger.Error("bootstrapping admin account", err)
	} else if created {
		logger.Info("admin account created", map[string]interface{}{"username": admin.Username})
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			logger.Error("debug server closed", err)
		}
	}()

	// =========================================================================
	// Start MQTT Subscriber

	if conf.MQTT.Enabled {
		if err := p.Subscriber.Start(); err != nil {
			// the API keeps serving; devices can still use the HTTP ingest
			logger.Error("starting mqtt subscriber", err)
		} else {
			logger.Info("mqtt subscriber started", map[string]interface{}{"topics": p.Subscriber.Topics()})
			defer p.Subscriber.Stop()
		}
	}

	// =========================================================================
	// Start API Service

	server := p.Server
	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Fatal("server error", err)

	case sig := <-server.ShutdownSignal():
		logger.Info("start shutdown", map[string]interface{}{"signal": sig.String()})

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shut down and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("could not stop server gracefully", err)

			if err = server.Close(); err != nil {
				logger.Fatal("could not force stop server", err)
			}
		}
	}
}
