package callhome

import (
	"context"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netconf-go/netconf/common"
	"github.com/netconf-go/netconf/ops"
	"github.com/netconf-go/netconf/server/netconf"
	sshserver "github.com/netconf-go/netconf/server/ssh"

	"github.com/stretchr/testify/require"
)

const (
	deviceUser     = "device"
	devicePassword = "secret"
)

type echoCallback struct{}

func (echoCallback) Capabilities() []string { return common.DefaultCapabilities }

func (echoCallback) HandleRequest(req *netconf.RpcRequestMessage) *netconf.RpcReplyMessage {
	return &netconf.RpcReplyMessage{MessageID: req.MessageID, Ok: true}
}

func TestCallHomeSSHEstablishesSession(t *testing.T) {
	ctx := context.Background()

	manager, err := NewListener(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer manager.Close()

	manager.SetClientConfig(&ClientConfig{
		Address: "127.0.0.1",
		Kind:    SSH,
		SSHClientConfig: &ssh.ClientConfig{
			User:            deviceUser,
			Auth:            []ssh.AuthMethod{ssh.Password(devicePassword)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), // nolint:gosec
		},
	})

	deviceSSHConfig, err := sshserver.PasswordConfig(deviceUser, devicePassword)
	require.NoError(t, err)

	factory := netconf.NewHandlerFactory(ctx, func(*netconf.SessionHandler) netconf.SessionCallback {
		return echoCallback{}
	})

	go func() {
		_ = DialSSH(ctx, "tcp", managerAddr(manager), deviceSSHConfig, factory)
	}()

	select {
	case result := <-manager.Results():
		require.Equal(t, SSH, result.Kind)
		require.Equal(t, "127.0.0.1", result.Address)
		require.NotNil(t, result.Session)
		reply, err := result.Session.Execute(ops.GetReq{})
		require.NoError(t, err)
		require.NotNil(t, reply)
		result.Session.Close()
	case clientErr := <-manager.Errors():
		t.Fatalf("unexpected call-home error: %v", clientErr)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for call-home session")
	}
}

func TestCallHomeRejectsUnconfiguredAddress(t *testing.T) {
	ctx := context.Background()

	manager, err := NewListener(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer manager.Close()
	// No client config registered for 127.0.0.1.

	deviceSSHConfig, err := sshserver.PasswordConfig(deviceUser, devicePassword)
	require.NoError(t, err)

	factory := netconf.NewHandlerFactory(ctx, func(*netconf.SessionHandler) netconf.SessionCallback {
		return echoCallback{}
	})

	go func() {
		_ = DialSSH(ctx, "tcp", managerAddr(manager), deviceSSHConfig, factory)
	}()

	select {
	case result := <-manager.Results():
		t.Fatalf("unexpected call-home result: %+v", result)
	case clientErr := <-manager.Errors():
		require.ErrorIs(t, clientErr.Err, ErrNoClientConfig)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for call-home error")
	}
}

func managerAddr(l *Listener) string {
	return "127.0.0.1:" + strconv.Itoa(l.Port())
}
