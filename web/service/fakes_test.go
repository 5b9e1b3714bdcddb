package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mhsanaei/xray-daemon/database"
	"github.com/mhsanaei/xray-daemon/database/model"
	"github.com/mhsanaei/xray-daemon/xray"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeXray keeps the user set and counters of an imaginary xray process.
type fakeXray struct {
	mu        sync.Mutex
	users     map[string]*xray.User
	traffic   map[string][2]int64
	addErr    map[string]error
	removeErr map[string]error
	readErr   map[string]error
	resets    []string
	calls     []string

	delay     time.Duration
	inflight  int
	maxFlight int

	// onTraffic runs before a traffic read, outside the lock
	onTraffic func(email string)
}

func newFakeXray() *fakeXray {
	return &fakeXray{
		users:     map[string]*xray.User{},
		traffic:   map[string][2]int64{},
		addErr:    map[string]error{},
		removeErr: map[string]error{},
		readErr:   map[string]error{},
	}
}

func userKey(tag, email string) string {
	return tag + "/" + email
}

func (f *fakeXray) AddUser(ctx context.Context, user *xray.User) error {
	if err := ctx.Err(); err != nil {
		return &xray.Error{Kind: xray.KindUnavailable, Detail: err.Error()}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "add "+userKey(user.InboundTag, user.Email))
	if err := f.addErr[user.Email]; err != nil {
		return err
	}
	key := userKey(user.InboundTag, user.Email)
	if _, ok := f.users[key]; ok {
		return &xray.Error{Kind: xray.KindAlreadyExists, Detail: "User " + user.Email + " already exists."}
	}
	f.users[key] = user
	return nil
}

func (f *fakeXray) RemoveUser(ctx context.Context, tag, email string) error {
	if err := ctx.Err(); err != nil {
		return &xray.Error{Kind: xray.KindUnavailable, Detail: err.Error()}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "remove "+userKey(tag, email))
	if err := f.removeErr[email]; err != nil {
		return err
	}
	key := userKey(tag, email)
	if _, ok := f.users[key]; !ok {
		return &xray.Error{Kind: xray.KindNotFound, Detail: "User " + email + " not found."}
	}
	delete(f.users, key)
	return nil
}

func (f *fakeXray) GetUserTraffic(ctx context.Context, email string, reset bool) xray.TrafficSample {
	if f.onTraffic != nil {
		f.onTraffic(email)
	}

	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxFlight {
		f.maxFlight = f.inflight
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	if err := f.readErr[email]; err != nil {
		return xray.TrafficSample{Uplink: xray.Counter{Err: err}, Downlink: xray.Counter{Err: err}}
	}
	if reset {
		f.resets = append(f.resets, email)
	}
	legs, ok := f.traffic[email]
	if !ok {
		missing := &xray.Error{Kind: xray.KindCounterNotFound, Detail: "uplink not found."}
		return xray.TrafficSample{Uplink: xray.Counter{Err: missing}, Downlink: xray.Counter{Err: missing}}
	}
	if reset {
		f.traffic[email] = [2]int64{}
	}
	return xray.TrafficSample{Uplink: xray.Counter{Value: legs[0]}, Downlink: xray.Counter{Value: legs[1]}}
}

func (f *fakeXray) GetInboundTraffic(ctx context.Context, tag string, reset bool) xray.TrafficSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "inbound "+tag)
	if err := f.readErr[tag]; err != nil {
		return xray.TrafficSample{Uplink: xray.Counter{Value: 10}, Downlink: xray.Counter{Err: err}}
	}
	legs := f.traffic[tag]
	return xray.TrafficSample{Uplink: xray.Counter{Value: legs[0]}, Downlink: xray.Counter{Value: legs[1]}}
}

func (f *fakeXray) hasUser(tag, email string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[userKey(tag, email)]
	return ok
}

func (f *fakeXray) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, account *model.Account) *model.Account {
	t.Helper()
	if account.InboundTag == "" {
		account.InboundTag = "vless-in"
	}
	if account.Protocol == "" {
		account.Protocol = xray.VLess
		account.UUID = "b831381d-6324-4d53-ad4f-8cda48b30811"
		account.Flow = model.DefaultFlow
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func loadAccount(t *testing.T, s *AccountService, tag, email string) *model.Account {
	t.Helper()
	account, err := s.GetAccount(tag, email)
	require.NoError(t, err)
	return account
}
