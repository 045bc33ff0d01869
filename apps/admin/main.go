package main

import (
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/telemetry"
	"github.com/JoeMarian/bluedropwithvps/core/user"
	emailsvc "github.com/JoeMarian/bluedropwithvps/services/email"
	logsvc "github.com/JoeMarian/bluedropwithvps/services/logger"
	"github.com/JoeMarian/bluedropwithvps/storage/database"
	inmemdb "github.com/JoeMarian/bluedropwithvps/storage/database/inmem"
	sqlxrepos "github.com/JoeMarian/bluedropwithvps/storage/database/sqlx"
)

const engineMemory = "memory"

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZap(conf)
	if err != nil {
		panic(err)
	}
	logger := logsvc.NewRollbarLogger(zl, conf).Named("admin")
	defer logger.Sync()

	cli := commandLine{conf: conf, out: os.Stdout}

	// set up DB
	var (
		usrRepo  user.Repository
		dashRepo dashboard.Repository
		points   telemetry.Repository
	)
	if conf.Database.Engine == engineMemory {
		db := inmemdb.Open()
		usrRepo, dashRepo, points = inmemdb.NewUserRepository(db), inmemdb.NewDashboardRepository(db), inmemdb.NewPointRepository(db)
	} else {
		db, err := database.Open(conf)
		if err != nil {
			logger.Fatal("opening database", err)
		}
		defer db.Close()
		if err = db.Ping(); err != nil {
			logger.Fatal("pinging database", err)
		}
		cli.db = db.DB
		usrRepo, dashRepo, points = sqlxrepos.NewUserRepository(db), sqlxrepos.NewDashboardRepository(db), sqlxrepos.NewPointRepository(db)
	}

	// set up services
	translator := core.NewTranslator()
	cli.validate = validator.New()
	core.InitValidators(cli.validate, translator)
	user.InitValidators(cli.validate, translator)
	user.LoadCommonPasswords(logger)

	cli.mailSvc = emailsvc.NewService(conf, logger)
	cli.usrRepo = usrRepo
	cli.usrSvc = user.NewService(usrRepo, cli.mailSvc, conf)
	cli.dashSvc = dashboard.NewService(dashRepo, points, cli.usrSvc, cli.mailSvc, conf)

	// start CLI
	err = cli.run(os.Args)
	emailsvc.Wait()
	if err != nil {
		if err != errHelp {
			logger.Error("command failed", err)
		}
		logger.Sync()
		os.Exit(1)
	}
}
