package model

import (
	"testing"
	"time"

	"github.com/mhsanaei/xray-daemon/xray"

	"github.com/stretchr/testify/assert"
)

func TestAccountUpdateColumns(t *testing.T) {
	assert.True(t, AccountUpdate{}.IsEmpty())

	traffic := int64(0)
	active := false
	now := time.Now()
	columns := AccountUpdate{Traffic: &traffic, Active: &active, ResetTrafficAt: &now}.Columns()

	assert.Equal(t, map[string]any{
		"traffic":          int64(0),
		"active":           false,
		"reset_traffic_at": now,
	}, columns)
}

func TestToXrayUser(t *testing.T) {
	a := &Account{
		InboundTag: "in-ss",
		Email:      "a@b",
		Level:      -1,
		Protocol:   xray.Shadowsocks,
		Password:   "pw",
		Cipher:     "aes-128-gcm",
	}
	u := a.ToXrayUser()
	assert.Equal(t, "in-ss", u.InboundTag)
	assert.Equal(t, uint32(0), u.Level)
	assert.Equal(t, "aes-128-gcm", u.Cipher)
	assert.Equal(t, xray.Shadowsocks, u.Protocol)
}
