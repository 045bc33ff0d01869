package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env                           string
		Build                         string
		Debug                         bool
		TestMode                      bool
		AppName                       string
		SecretKey                     string
		FrontendBaseURL               string
		Timezone                      string
		RollbarToken                  string
		SendgridApiKey                string
		PasswordResetTimeoutDelta     time.Duration
		EmailVerificationTimeoutDelta time.Duration
		Admin                         adminConfig
		Server                        serverConfig
		Database                      databaseConfig
		MQTT                          mqttConfig
		Export                        exportConfig

		defaultFromEmail string
		location         *time.Location
	}

	adminConfig struct {
		Username string
		Email    string
		Password string
	}

	serverConfig struct {
		Host                      string
		Address                   string
		DebugAddress              string
		CORSOrigins               []string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	databaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	mqttConfig struct {
		Enabled     bool
		Broker      string
		Port        int
		Username    string
		Password    string
		ClientID    string
		TopicPrefix string
	}

	exportConfig struct {
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
		UseSSL    bool
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

// Location is the time zone timestamps are rendered in.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func (d databaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

func (m mqttConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
}

// NewConfig reads the application settings from the environment.
// ENV selects DEV (local; default), TEST, QA or PROD and is used as the env prefix, ie: DEV_SECRETKEY.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("appName", "TankManage")
	v.SetDefault("secretKey", "a7e#x1(z=qv9$+tank^manage)u0l!w4&c3b8yp2k@m5nj6h")
	v.SetDefault("frontendBaseURL", "http://localhost:5173")
	v.SetDefault("timezone", "Asia/Kolkata")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("passwordResetTimeoutDelta", 24*time.Hour)
	v.SetDefault("emailVerificationTimeoutDelta", 24*time.Hour)
	v.SetDefault("adminUsername", "admin")
	v.SetDefault("adminEmail", "admin@localhost")
	v.SetDefault("adminPassword", "")
	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugAddress", ":4000")
	v.SetDefault("serverCORSOrigins", "http://localhost:5173,http://127.0.0.1:5173")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 30*time.Minute)
	v.SetDefault("jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", 5432)
	v.SetDefault("dbName", "tankmanage")
	v.SetDefault("dbUser", "tankmanage")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)
	v.SetDefault("mqttEnabled", false)
	v.SetDefault("mqttBroker", "localhost")
	v.SetDefault("mqttPort", 1883)
	v.SetDefault("mqttUsername", "")
	v.SetDefault("mqttPassword", "")
	v.SetDefault("mqttClientID", "tankmanage-api")
	v.SetDefault("mqttTopicPrefix", "tankmanage")
	v.SetDefault("exportEndpoint", "")
	v.SetDefault("exportAccessKey", "")
	v.SetDefault("exportSecretKey", "")
	v.SetDefault("exportBucket", "")
	v.SetDefault("exportUseSSL", true)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	if wd, err := os.Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:                           env,
		Build:                         v.GetString("build"),
		Debug:                         v.GetBool("debug"),
		TestMode:                      v.GetBool("testMode"),
		AppName:                       v.GetString("appName"),
		SecretKey:                     v.GetString("secretKey"),
		FrontendBaseURL:               strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		Timezone:                      v.GetString("timezone"),
		RollbarToken:                  v.GetString("rollbarToken"),
		SendgridApiKey:                v.GetString("sendgridApiKey"),
		PasswordResetTimeoutDelta:     v.GetDuration("passwordResetTimeoutDelta"),
		EmailVerificationTimeoutDelta: v.GetDuration("emailVerificationTimeoutDelta"),
		Admin: adminConfig{
			Username: CleanString(v.GetString("adminUsername"), true /* lower */),
			Email:    CleanString(v.GetString("adminEmail"), true /* lower */),
			Password: v.GetString("adminPassword"),
		},
		Server: serverConfig{
			Host:                      v.GetString("serverHost"),
			Address:                   v.GetString("serverAddress"),
			DebugAddress:              v.GetString("serverDebugAddress"),
			CORSOrigins:               splitList(v.GetString("serverCORSOrigins")),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: databaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetInt("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		MQTT: mqttConfig{
			Enabled:     v.GetBool("mqttEnabled"),
			Broker:      v.GetString("mqttBroker"),
			Port:        v.GetInt("mqttPort"),
			Username:    v.GetString("mqttUsername"),
			Password:    v.GetString("mqttPassword"),
			ClientID:    v.GetString("mqttClientID"),
			TopicPrefix: strings.Trim(v.GetString("mqttTopicPrefix"), "/"),
		},
		Export: exportConfig{
			Endpoint:  v.GetString("exportEndpoint"),
			AccessKey: v.GetString("exportAccessKey"),
			SecretKey: v.GetString("exportSecretKey"),
			Bucket:    v.GetString("exportBucket"),
			UseSSL:    v.GetBool("exportUseSSL"),
		},
		defaultFromEmail: v.GetString("defaultFromEmail"),
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		log.Printf("config.LoadLocation(%s): %v; falling back to UTC", conf.Timezone, err)
		loc = time.UTC
	}
	conf.location = loc
	return conf
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
