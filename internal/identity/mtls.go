package identity

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

const ctxClientCN = "skylink_client_cn"

// MTLSConfig describes the gateway's mutual-TLS listener.
type MTLSConfig struct {
	Enabled    bool
	CertFile   string // server certificate
	KeyFile    string // server private key
	CACertFile string // CA bundle used to verify client certificates
}

// ServerTLSConfig builds a *tls.Config that requires and verifies client
// certificates against the configured CA. TLS 1.2 is the floor. Returns nil
// when mTLS is disabled.
func ServerTLSConfig(cfg MTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}

	caPEM, err := os.ReadFile(cfg.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no usable certificates in %s", cfg.CACertFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// RequireClientCert returns a Gin middleware that enforces mutual TLS on the
// route. It extracts the client certificate's common name — the aircraft
// identifier — and injects it into the Gin context for cross-validation
// against the token subject.
//
// The TLS layer has already verified the chain against the CA pool by the
// time this runs; the middleware only rejects connections that presented no
// certificate at all (possible when ClientAuth is relaxed for dev).
func RequireClientCert() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.TLS == nil || len(c.Request.TLS.PeerCertificates) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "client certificate required",
				},
			})
			return
		}

		cn := c.Request.TLS.PeerCertificates[0].Subject.CommonName
		if cn == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "client certificate has no common name",
				},
			})
			return
		}

		c.Set(ctxClientCN, cn)
		c.Next()
	}
}

// ClientCNFromCtx retrieves the verified client common name injected by
// RequireClientCert. Empty when the request did not pass mTLS.
func ClientCNFromCtx(c *gin.Context) string {
	v, _ := c.Get(ctxClientCN)
	s, _ := v.(string)
	return s
}

// SetClientCN injects a transport identity into the Gin context. Used by
// tests and by deployments that terminate TLS upstream and forward the
// verified CN.
func SetClientCN(c *gin.Context, cn string) {
	c.Set(ctxClientCN, cn)
}
