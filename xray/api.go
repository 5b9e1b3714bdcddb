// Package xray is the gRPC adapter to a running xray-core process: it adds and
// removes inbound users and reads traffic counters.
package xray

import (
	"context"
	"time"

	"github.com/mhsanaei/xray-daemon/logger"
	"github.com/mhsanaei/xray-daemon/util/common"

	"github.com/xtls/xray-core/app/proxyman/command"
	statsService "github.com/xtls/xray-core/app/stats/command"
	"github.com/xtls/xray-core/common/serial"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultTimeout = 10 * time.Second

// Client talks to the xray HandlerService and StatsService over one shared
// connection. It keeps no state besides the connection.
type Client struct {
	conn    *grpc.ClientConn
	handler command.HandlerServiceClient
	stats   statsService.StatsServiceClient
	timeout time.Duration
}

// Dial creates a client for the xray API at address. The connection is
// established lazily on the first call.
func Dial(address string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	if address == "" {
		return nil, common.NewError("xray api address is empty")
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, common.NewErrorf("xray api %s: %v", address, err)
	}
	return NewClient(conn, timeout), nil
}

// NewClient wraps an existing connection. A non-positive timeout selects the default.
func NewClient(conn *grpc.ClientConn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		conn:    conn,
		handler: command.NewHandlerServiceClient(conn),
		stats:   statsService.NewStatsServiceClient(conn),
		timeout: timeout,
	}
}

func (x *Client) Close() error {
	if x.conn == nil {
		return nil
	}
	err := x.conn.Close()
	x.conn = nil
	return err
}

// AddUser provisions user on its inbound. Legacy shadowsocks inbounds cannot
// update a user in place, so any stale entry is removed first.
func (x *Client) AddUser(ctx context.Context, user *User) error {
	pbUser, err := buildUser(user)
	if err != nil {
		return err
	}

	if user.Protocol == Shadowsocks {
		if err := x.RemoveUser(ctx, user.InboundTag, user.Email); err != nil && !IsKind(err, KindNotFound) {
			logger.Debugf("xray: pre-add removal of %s from %s failed: %v", user.Email, user.InboundTag, err)
		}
	}

	return x.alterInbound(ctx, user.InboundTag, serial.ToTypedMessage(&command.AddUserOperation{
		User: pbUser,
	}))
}

// RemoveUser removes the user identified by email from the inbound.
func (x *Client) RemoveUser(ctx context.Context, inboundTag string, email string) error {
	return x.alterInbound(ctx, inboundTag, serial.ToTypedMessage(&command.RemoveUserOperation{
		Email: email,
	}))
}

func (x *Client) alterInbound(ctx context.Context, inboundTag string, operation *serial.TypedMessage) error {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	_, err := x.handler.AlterInbound(ctx, &command.AlterInboundRequest{
		Tag:       inboundTag,
		Operation: operation,
	})
	return classify(err)
}

// GetUserTraffic reads the uplink and downlink counters of a user. With
// reset the counters are cleared atomically and the pre-reset values returned.
func (x *Client) GetUserTraffic(ctx context.Context, email string, reset bool) TrafficSample {
	return TrafficSample{
		Uplink:   x.getStat(ctx, userCounterName(email, uplink), reset),
		Downlink: x.getStat(ctx, userCounterName(email, downlink), reset),
	}
}

// GetInboundTraffic reads the aggregate counters of an inbound.
func (x *Client) GetInboundTraffic(ctx context.Context, inboundTag string, reset bool) TrafficSample {
	return TrafficSample{
		Uplink:   x.getStat(ctx, inboundCounterName(inboundTag, uplink), reset),
		Downlink: x.getStat(ctx, inboundCounterName(inboundTag, downlink), reset),
	}
}

func (x *Client) getStat(ctx context.Context, name string, reset bool) Counter {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	resp, err := x.stats.GetStats(ctx, &statsService.GetStatsRequest{
		Name:   name,
		Reset_: reset,
	})
	if err != nil {
		return Counter{Err: classify(err)}
	}
	return Counter{Value: resp.GetStat().GetValue()}
}
