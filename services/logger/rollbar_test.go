package logsvc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

func TestRollbarLogger(t *testing.T) {
	obs, logs := observer.New(zap.DebugLevel)
	l := NewRollbarLogger(zap.New(obs), &core.Config{AppName: "BlueDrop", Env: "test"})
	l.Enable(false)

	usr := user.User{ID: "0b4e7a4c-8a43-4c3f-9a8e-5d2f0f1b7c11", Username: "awe", Email: "awe@test.test"}
	l.Error("ingesting reading", errors.New("boom"), map[string]interface{}{"topic": "bluedrop/d/f"}, usr, usr)
	l.Info("started")

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "ingesting reading", entries[0].Message)
		assert.Equal(t, "boom", ctx["error"])
		assert.Equal(t, "bluedrop/d/f", ctx["topic"])
		assert.Equal(t, usr.ID, ctx["user_id"])
		assert.Equal(t, "started", entries[1].Message)
		assert.Empty(t, entries[1].ContextMap())
	}
}
