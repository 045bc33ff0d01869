package tests

import (
	"os"
	"testing"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	echoapi "github.com/JoeMarian/bluedropwithvps/apps/api/echo"
	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/telemetry"
	"github.com/JoeMarian/bluedropwithvps/core/user"
	"github.com/JoeMarian/bluedropwithvps/services/email"
	"github.com/JoeMarian/bluedropwithvps/services/logger"
	"github.com/JoeMarian/bluedropwithvps/storage/database/inmem"
)

var (
	conf      *core.Config
	db        *inmemdb.DB
	app       *echoapi.Server
	usrRepo   user.Repository
	dashRepo  dashboard.Repository
	pointRepo telemetry.Repository
)

func TestMain(m *testing.M) {
	conf = core.NewConfig()
	logger := logsvc.NewRollbarLogger(zap.NewNop(), conf)

	// set up validation
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	dashboard.InitValidators(validate, translator)
	user.LoadCommonPasswords(logger)

	// set up DB & repos
	db = inmemdb.Open()
	usrRepo = inmemdb.NewUserRepository(db)
	dashRepo = inmemdb.NewDashboardRepository(db)
	pointRepo = inmemdb.NewPointRepository(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	dashSvc := dashboard.NewService(dashRepo, pointRepo, usrSvc, mailSvc, conf)

	// set up server
	app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:           conf,
		Logger:         logger,
		UserSvc:        usrSvc,
		DashboardSvc:   dashSvc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})

	os.Exit(m.Run())
}

// resetDB empties the store & the sent emails between tests.
func resetDB() {
	db.Reset()
	emailsvc.ResetSentMessages()
}
