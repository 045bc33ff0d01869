package dig_container

import (
	"io"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/JoeMarian/bluedropwithvps/apps/api/echo"
	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/telemetry"
	"github.com/JoeMarian/bluedropwithvps/core/user"
	emailsvc "github.com/JoeMarian/bluedropwithvps/services/email"
	logsvc "github.com/JoeMarian/bluedropwithvps/services/logger"
	mqttsvc "github.com/JoeMarian/bluedropwithvps/services/mqtt"
	"github.com/JoeMarian/bluedropwithvps/storage/database"
	inmemdb "github.com/JoeMarian/bluedropwithvps/storage/database/inmem"
	sqlxrepos "github.com/JoeMarian/bluedropwithvps/storage/database/sqlx"
)

// EngineMemory keeps every record in process memory. Nothing survives a restart.
const EngineMemory = "memory"

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	MQTTLoggerParam struct {
		dig.In
		Logger core.Logger `name:"mqttLogger"`
	}

	// Store holds the repositories of the configured engine.
	Store struct {
		dig.Out
		Users      user.Repository
		Dashboards dashboard.Repository
		Points     telemetry.Repository
		DB         echoapi.Pinger // nil in memory
		Closer     io.Closer      `name:"dbCloser"`
	}

	serverParams struct {
		dig.In
		Conf         *core.Config
		Logger       core.Logger
		DB           echoapi.Pinger
		UserSvc      user.ServiceInterface
		DashboardSvc dashboard.ServiceInterface
		Validate     *validator.Validate
		Translator   ut.Translator
	}
)

func newRollbarLogger(conf *core.Config) (*logsvc.RollbarLogger, error) {
	zl, err := logsvc.NewZap(conf)
	if err != nil {
		return nil, errors.Wrap(err, "building zap logger")
	}
	return logsvc.NewRollbarLogger(zl, conf), nil
}

func newLogger(base *logsvc.RollbarLogger) core.Logger { return base.Named("api") }

func newDBLogger(base *logsvc.RollbarLogger) core.Logger { return base.Named("db") }

func newMQTTLogger(base *logsvc.RollbarLogger) core.Logger { return base.Named("mqtt") }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newStore(conf *core.Config, loggerParam DBLoggerParam) Store {
	logger := loggerParam.Logger
	if conf.Database.Engine == EngineMemory {
		logger.Warn("using the in-memory store: data is lost on restart")
		db := inmemdb.Open()
		return Store{
			Users:      inmemdb.NewUserRepository(db),
			Dashboards: inmemdb.NewDashboardRepository(db),
			Points:     inmemdb.NewPointRepository(db),
			Closer:     nopCloser{},
		}
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		// the app role may lack the rights to create itself; the database may already exist
		logger.Warn("could not create database", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}
	if err = database.Migrate(db.DB, "up"); err != nil {
		logger.Fatal("migrating database", err)
	}
	return Store{
		Users:      sqlxrepos.NewUserRepository(db),
		Dashboards: sqlxrepos.NewDashboardRepository(db),
		Points:     sqlxrepos.NewPointRepository(db),
		DB:         db,
		Closer:     db,
	}
}

func newTranslator() ut.Translator { return core.NewTranslator() }

func newValidator(translator ut.Translator, logger core.Logger) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	dashboard.InitValidators(validate, translator)
	user.LoadCommonPasswords(logger)
	return validate
}

func newSubscriber(conf *core.Config, svc dashboard.ServiceInterface, loggerParam MQTTLoggerParam) *mqttsvc.Subscriber {
	return mqttsvc.NewSubscriber(conf, svc, loggerParam.Logger)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:         p.Conf,
		Logger:       p.Logger,
		DB:           p.DB,
		UserSvc:      p.UserSvc,
		DashboardSvc: p.DashboardSvc,
		Validate:     p.Validate,
		Translator:   p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newRollbarLogger))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newMQTTLogger, dig.Name("mqttLogger")))
	must(c.Provide(newStore))
	must(c.Provide(emailsvc.NewService))
	must(c.Provide(newTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(user.NewService))
	must(c.Provide(dashboard.NewService))
	must(c.Provide(newSubscriber))
	must(c.Provide(newServer))

	if os.Getenv("DIG_VISUALIZE") != "" {
		_ = dig.Visualize(c, os.Stdout)
	}
	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
