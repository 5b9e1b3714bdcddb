// Package entity defines the request and response bodies of the HTTP API.
package entity

import "github.com/mhsanaei/xray-daemon/xray"

// Msg is the envelope of every JSON response that is not a bare resource.
type Msg struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Obj     any    `json:"obj"`
}

// CreateAccountRequest is the body of an account creation. Omitted fields
// take the service defaults.
type CreateAccountRequest struct {
	Email    string        `json:"email"`
	Level    int           `json:"level"`
	Protocol xray.Protocol `json:"protocol"`
	Cipher   string        `json:"cipher"`
	Flow     *string       `json:"flow"`
	Quota    int64         `json:"quota"` // bytes, 0 is unlimited
}
