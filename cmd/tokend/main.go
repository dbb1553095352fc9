// tokend is a development token issuer. It generates (or loads) an RSA key
// pair, mints tenant-scoped bearer tokens, and exposes the public key so
// engined can be pointed at it via AUTH_PUBLIC_KEY_PEM.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tidehook/tidehook/internal/logging"
)

const keyID = "tidehook-key-1"

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type issuer struct {
	privateKey *rsa.PrivateKey
	issuer     string
	audience   string
	logger     *logging.Logger
}

func newIssuer(logger *logging.Logger) (*issuer, error) {
	var key *rsa.PrivateKey
	var err error

	if keyPEM := os.Getenv("JWT_PRIVATE_KEY"); keyPEM != "" {
		block, _ := pem.Decode([]byte(keyPEM))
		if block == nil {
			logger.Plain().Fatal("failed to decode PEM private key")
		}
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
	} else {
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		logger.Plain().Info("generated new RSA key pair for token signing")
	}

	iss := os.Getenv("AUTH_ISSUER")
	if iss == "" {
		iss = "tidehook"
	}
	aud := os.Getenv("AUTH_AUDIENCE")
	if aud == "" {
		aud = "tidehook-api"
	}

	return &issuer{privateKey: key, issuer: iss, audience: aud, logger: logger}, nil
}

// jwksHandler serves the public key in JWK set format.
func (s *issuer) jwksHandler(w http.ResponseWriter, r *http.Request) {
	pub := &s.privateKey.PublicKey
	response := jwksResponse{
		Keys: []jwk{{
			Kty: "RSA",
			Use: "sig",
			Kid: keyID,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(intToBytes(pub.E)),
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	json.NewEncoder(w).Encode(response)
}

// publicKeyHandler serves the PKIX public key PEM, ready to paste into
// AUTH_PUBLIC_KEY_PEM.
func (s *issuer) publicKeyHandler(w http.ResponseWriter, r *http.Request) {
	der, err := x509.MarshalPKIXPublicKey(&s.privateKey.PublicKey)
	if err != nil {
		http.Error(w, "failed to encode public key", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	pem.Encode(w, &pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// tokenHandler mints a tenant-scoped bearer token.
func (s *issuer) tokenHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
		TTL      int    `json:"ttl_seconds,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = 3600
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":       s.issuer,
		"aud":       s.audience,
		"sub":       req.TenantID,
		"tenant_id": req.TenantID,
		"iat":       time.Now().Unix(),
		"exp":       time.Now().Add(time.Duration(ttl) * time.Second).Unix(),
	})
	token.Header["kid"] = keyID

	tokenString, err := token.SignedString(s.privateKey)
	if err != nil {
		http.Error(w, "failed to sign token", http.StatusInternalServerError)
		return
	}

	s.logger.Plain().WithTenant(req.TenantID).WithField("ttl_seconds", ttl).Info("token issued")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":      tokenString,
		"expires_in": ttl,
		"token_type": "Bearer",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func main() {
	logger := logging.New("tidehook-tokend")

	s, err := newIssuer(logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("key setup failed")
	}

	http.HandleFunc("/.well-known/jwks.json", s.jwksHandler)
	http.HandleFunc("/public-key.pem", s.publicKeyHandler)
	http.HandleFunc("/token", s.tokenHandler)
	http.HandleFunc("/healthz", healthHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	logger.Plain().WithField("port", port).Info("token issuer listening")
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.Plain().WithError(err).Fatal("server failed")
	}
}

// intToBytes converts the RSA public exponent to big-endian bytes.
func intToBytes(i int) []byte {
	if i == 0 {
		return []byte{0}
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte(i & 0xff)}, b...)
		i >>= 8
	}
	return b
}
