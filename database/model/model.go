// Package model defines the persisted entities of the xray-daemon.
package model

import (
	"time"

	"github.com/mhsanaei/xray-daemon/xray"
)

const DefaultFlow = "xtls-rprx-vision"

// Account is one managed proxy identity, keyed by (InboundTag, Email).
type Account struct {
	Id             int           `json:"id" gorm:"primaryKey;autoIncrement"`
	InboundTag     string        `json:"inboundTag" gorm:"size:64;not null;uniqueIndex:idx_accounts_identity"`
	Email          string        `json:"email" gorm:"size:128;not null;uniqueIndex:idx_accounts_identity"`
	Level          int           `json:"level"`
	Protocol       xray.Protocol `json:"protocol" gorm:"size:16;not null"`
	Password       string        `json:"password,omitempty" gorm:"size:64"`
	Cipher         string        `json:"cipher,omitempty" gorm:"size:32"`
	UUID           string        `json:"uuid,omitempty" gorm:"column:uuid;size:36"`
	Flow           string        `json:"flow" gorm:"size:32"`
	Traffic        int64         `json:"traffic"`
	Quota          int64         `json:"quota"`
	Active         bool          `json:"active"`
	Blocked        bool          `json:"blocked"`
	ResetTrafficAt time.Time     `json:"resetTrafficAt"`
	CreatedAt      time.Time     `json:"createdAt" gorm:"autoCreateTime"`
}

// ToXrayUser returns the provisioning payload for this account.
func (a *Account) ToXrayUser() *xray.User {
	level := a.Level
	if level < 0 {
		level = 0
	}
	return &xray.User{
		InboundTag: a.InboundTag,
		Email:      a.Email,
		Protocol:   a.Protocol,
		Level:      uint32(level),
		ID:         a.UUID,
		Password:   a.Password,
		Cipher:     a.Cipher,
		Flow:       a.Flow,
	}
}

// AccountUpdate carries the fields to change on an account; nil means keep.
type AccountUpdate struct {
	Traffic        *int64     `json:"traffic"`
	Quota          *int64     `json:"quota"`
	Active         *bool      `json:"active"`
	Blocked        *bool      `json:"blocked"`
	ResetTrafficAt *time.Time `json:"resetTrafficAt"`
}

// Columns returns the column values to update, keyed by column name.
func (u AccountUpdate) Columns() map[string]any {
	columns := make(map[string]any, 5)
	if u.Traffic != nil {
		columns["traffic"] = *u.Traffic
	}
	if u.Quota != nil {
		columns["quota"] = *u.Quota
	}
	if u.Active != nil {
		columns["active"] = *u.Active
	}
	if u.Blocked != nil {
		columns["blocked"] = *u.Blocked
	}
	if u.ResetTrafficAt != nil {
		columns["reset_traffic_at"] = *u.ResetTrafficAt
	}
	return columns
}

// IsEmpty reports whether the update changes nothing.
func (u AccountUpdate) IsEmpty() bool {
	return len(u.Columns()) == 0
}
