package client

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/netconf-go/netconf/common"
	"github.com/netconf-go/netconf/server/netconf"
	tlsserver "github.com/netconf-go/netconf/server/tls"

	assert "github.com/stretchr/testify/require"
)

type tlsEchoCallback struct{}

func (tlsEchoCallback) Capabilities() []string { return common.DefaultCapabilities }

func (tlsEchoCallback) HandleRequest(req *netconf.RpcRequestMessage) *netconf.RpcReplyMessage {
	return &netconf.RpcReplyMessage{MessageID: req.MessageID, Data: netconf.ReplyData{Data: req.Request.Body}}
}

func newTLSTestServer(t *testing.T) *tlsserver.Server {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "server"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	assert.NoError(t, err)

	cfg := &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: priv}}}

	ctx := context.Background()
	factory := netconf.NewTLSHandlerFactory(ctx, func(*netconf.SessionHandler) netconf.SessionCallback {
		return tlsEchoCallback{}
	})
	srv, err := tlsserver.NewServer(ctx, "127.0.0.1", 0, cfg, nil, factory)
	assert.NoError(t, err)
	return srv
}

func TestNewRPCSessionOverTLS(t *testing.T) {
	srv := newTLSTestServer(t)
	defer srv.Close()

	clientCfg := &tls.Config{InsecureSkipVerify: true} // nolint: gosec
	target := fmt.Sprintf("127.0.0.1:%d", srv.Port())

	s, err := NewRPCSessionOverTLS(context.Background(), clientCfg, target, DefaultConfig)
	assert.NoError(t, err, "Not expecting session setup to fail")
	defer s.Close()

	assert.Equal(t, common.StatusRunning, s.Status())

	reply, err := s.Execute(common.Request(`<get><response/></get>`))
	assert.NoError(t, err, "Not expecting exec to fail")
	assert.NotNil(t, reply)
	assert.Equal(t, `<data><response/></data>`, reply.Data)
}

func TestNewTLSTransportDialFailure(t *testing.T) {
	clientCfg := &tls.Config{InsecureSkipVerify: true} // nolint: gosec
	tr, err := NewTLSTransport(context.Background(), clientCfg, "127.0.0.1:1")
	assert.Error(t, err, "Expecting dial to fail")
	assert.Nil(t, tr)
}
