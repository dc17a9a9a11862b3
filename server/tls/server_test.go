package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func generateSelfSignedCert(t *testing.T, cn string) (tls.Certificate, *x509.Certificate) {
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

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: cert}, cert
}

type recordingHandler struct {
	handled chan string
}

func (h *recordingHandler) Handle(conn *tls.Conn, username string) {
	h.handled <- username
	_ = conn.Close()
}

func TestServerHandshakeWithoutClientCert(t *testing.T) {
	serverCert, _ := generateSelfSignedCert(t, "server")
	serverCfg := &tls.Config{Certificates: []tls.Certificate{serverCert}}

	handler := &recordingHandler{handled: make(chan string, 1)}
	factory := func(conn *tls.Conn, username string) Handler { return handler }

	srv, err := NewServer(context.Background(), "127.0.0.1", 0, serverCfg, nil, factory)
	require.NoError(t, err)
	defer srv.Close()

	clientCfg := &tls.Config{InsecureSkipVerify: true} // nolint:gosec
	conn, err := tls.Dial("tcp", "127.0.0.1:"+strconv.Itoa(srv.Port()), clientCfg)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case username := <-handler.handled:
		require.Empty(t, username)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler invocation")
	}
}

func TestServerHandshakeWithCTNMapping(t *testing.T) {
	serverCert, _ := generateSelfSignedCert(t, "server")
	clientCert, clientX509 := generateSelfSignedCert(t, "device1.example.com")

	pool := x509.NewCertPool()
	pool.AddCert(clientX509)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{serverCert}, ClientCAs: pool}

	ctn := CTNList{{ID: 1, Priority: 1, MapType: MapCommonName}}

	handler := &recordingHandler{handled: make(chan string, 1)}
	factory := func(conn *tls.Conn, username string) Handler { return handler }

	srv, err := NewServer(context.Background(), "127.0.0.1", 0, serverCfg, ctn, factory)
	require.NoError(t, err)
	defer srv.Close()

	clientCfg := &tls.Config{
		InsecureSkipVerify: true, // nolint:gosec
		Certificates:       []tls.Certificate{clientCert},
	}
	conn, err := tls.Dial("tcp", "127.0.0.1:"+strconv.Itoa(srv.Port()), clientCfg)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case username := <-handler.handled:
		require.Equal(t, "device1.example.com", username)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler invocation")
	}
}

func TestServerRejectsRevokedCertificate(t *testing.T) {
	serverCert, _ := generateSelfSignedCert(t, "server")
	clientCert, clientX509 := generateSelfSignedCert(t, "device1.example.com")

	pool := x509.NewCertPool()
	pool.AddCert(clientX509)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{serverCert}, ClientCAs: pool}

	ctn := CTNList{{ID: 1, Priority: 1, MapType: MapCommonName}}

	handler := &recordingHandler{handled: make(chan string, 1)}
	factory := func(conn *tls.Conn, username string) Handler { return handler }

	srv, err := NewServer(context.Background(), "127.0.0.1", 0, serverCfg, ctn, factory)
	require.NoError(t, err)
	defer srv.Close()

	crl := NewCRLStore()
	crl.revoked[clientX509.SerialNumber.String()] = struct{}{}
	srv.SetCRLStore(crl)

	clientCfg := &tls.Config{
		InsecureSkipVerify: true, // nolint:gosec
		Certificates:       []tls.Certificate{clientCert},
	}
	conn, err := tls.Dial("tcp", "127.0.0.1:"+strconv.Itoa(srv.Port()), clientCfg)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-handler.handled:
		t.Fatal("handler should not have been invoked for revoked certificate")
	case <-time.After(300 * time.Millisecond):
	}
}

