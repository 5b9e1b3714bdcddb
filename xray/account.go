package xray

import (
	"github.com/xtls/xray-core/common/protocol"
	"github.com/xtls/xray-core/common/serial"
	"github.com/xtls/xray-core/proxy/shadowsocks"
	"github.com/xtls/xray-core/proxy/shadowsocks_2022"
	"github.com/xtls/xray-core/proxy/socks"
	"github.com/xtls/xray-core/proxy/trojan"
	"github.com/xtls/xray-core/proxy/vless"
	"github.com/xtls/xray-core/proxy/vmess"
)

// Protocol is the inbound protocol an account is provisioned for.
type Protocol string

const (
	Shadowsocks     Protocol = "shadowsocks"
	Shadowsocks2022 Protocol = "shadowsocks_2022"
	VMess           Protocol = "vmess"
	VLess           Protocol = "vless"
	Trojan          Protocol = "trojan"
	Socks           Protocol = "socks"
)

// IsValid reports whether p is one of the supported protocols.
func (p Protocol) IsValid() bool {
	switch p {
	case Shadowsocks, Shadowsocks2022, VMess, VLess, Trojan, Socks:
		return true
	}
	return false
}

// User is everything xray needs to provision one account on an inbound.
type User struct {
	InboundTag string
	Email      string
	Protocol   Protocol
	Level      uint32
	ID         string // vmess, vless
	Password   string // shadowsocks, shadowsocks_2022, trojan, socks
	Cipher     string // shadowsocks
	Flow       string // vless
}

// ParseCipherType maps a shadowsocks cipher name to xray's enum.
func ParseCipherType(name string) shadowsocks.CipherType {
	switch name {
	case "aes-128-gcm":
		return shadowsocks.CipherType_AES_128_GCM
	case "aes-256-gcm":
		return shadowsocks.CipherType_AES_256_GCM
	case "chacha20-poly1305", "chacha20-ietf-poly1305":
		return shadowsocks.CipherType_CHACHA20_POLY1305
	case "xchacha20-poly1305", "xchacha20-ietf-poly1305":
		return shadowsocks.CipherType_XCHACHA20_POLY1305
	case "none", "plain":
		return shadowsocks.CipherType_NONE
	}
	return shadowsocks.CipherType_UNKNOWN
}

// buildAccount encodes the protocol-specific account message for user.
func buildAccount(user *User) (*serial.TypedMessage, error) {
	switch user.Protocol {
	case VMess:
		return serial.ToTypedMessage(&vmess.Account{
			Id: user.ID,
		}), nil
	case VLess:
		return serial.ToTypedMessage(&vless.Account{
			Id:   user.ID,
			Flow: user.Flow,
		}), nil
	case Shadowsocks:
		return serial.ToTypedMessage(&shadowsocks.Account{
			Password:   user.Password,
			CipherType: ParseCipherType(user.Cipher),
		}), nil
	case Shadowsocks2022:
		// The cipher is fixed by the inbound's 2022 method.
		return serial.ToTypedMessage(&shadowsocks_2022.Account{
			Key: user.Password,
		}), nil
	case Trojan:
		return serial.ToTypedMessage(&trojan.Account{
			Password: user.Password,
		}), nil
	case Socks:
		return serial.ToTypedMessage(&socks.Account{
			Username: user.Email,
			Password: user.Password,
		}), nil
	}
	return nil, &Error{Kind: KindUnsupportedProtocol, Detail: string(user.Protocol)}
}

func buildUser(user *User) (*protocol.User, error) {
	account, err := buildAccount(user)
	if err != nil {
		return nil, err
	}
	return &protocol.User{
		Email:   user.Email,
		Level:   user.Level,
		Account: account,
	}, nil
}
