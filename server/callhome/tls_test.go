package callhome

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/netconf-go/netconf/ops"
	"github.com/netconf-go/netconf/server/netconf"

	"github.com/stretchr/testify/require"
)

func generateSelfSignedCert(t *testing.T, cn string) tls.Certificate {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:         true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
}

func TestCallHomeTLSEstablishesSession(t *testing.T) {
	ctx := context.Background()

	deviceCert := generateSelfSignedCert(t, "device1.example.com")
	deviceCfg := &tls.Config{Certificates: []tls.Certificate{deviceCert}}

	manager, err := NewListener(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer manager.Close()

	manager.SetClientConfig(&ClientConfig{
		Address: "127.0.0.1",
		Kind:    TLS,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // nolint:gosec
		},
	})

	factory := netconf.NewTLSHandlerFactory(ctx, func(*netconf.SessionHandler) netconf.SessionCallback {
		return echoCallback{}
	})

	go func() {
		_ = DialTLS(ctx, "tcp", managerAddr(manager), deviceCfg, nil, nil, factory)
	}()

	select {
	case result := <-manager.Results():
		require.Equal(t, TLS, result.Kind)
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
