package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "tidehook"
	testAudience = "tidehook-api"
)

type testKeys struct {
	private   *rsa.PrivateKey
	publicPEM string
}

func generateTestKeys(t *testing.T) testKeys {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return testKeys{private: key, publicPEM: string(pemBytes)}
}

func (k testKeys) signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(k.private)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestNewJWTValidator(t *testing.T) {
	keys := generateTestKeys(t)

	tests := []struct {
		name         string
		publicKeyPEM string
		expectError  bool
	}{
		{
			name:         "valid PKIX public key",
			publicKeyPEM: keys.publicPEM,
			expectError:  false,
		},
		{
			name:         "invalid PEM format",
			publicKeyPEM: "invalid-pem",
			expectError:  true,
		},
		{
			name:         "empty string",
			publicKeyPEM: "",
			expectError:  true,
		},
		{
			name:         "PEM block with garbage body",
			publicKeyPEM: "-----BEGIN PUBLIC KEY-----\naGVsbG8=\n-----END PUBLIC KEY-----",
			expectError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewJWTValidator(tt.publicKeyPEM, testIssuer, testAudience)
			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v == nil {
				t.Fatal("validator is nil")
			}
		})
	}
}

func TestValidateToken(t *testing.T) {
	keys := generateTestKeys(t)
	v, err := NewJWTValidator(keys.publicPEM, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}

	validClaims := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss":       testIssuer,
			"aud":       testAudience,
			"tenant_id": "acme",
			"exp":       time.Now().Add(time.Hour).Unix(),
		}
	}

	t.Run("valid token", func(t *testing.T) {
		tenant, err := v.ValidateToken(keys.signToken(t, validClaims()))
		if err != nil {
			t.Fatalf("ValidateToken: %v", err)
		}
		if tenant != "acme" {
			t.Errorf("tenant = %q, want acme", tenant)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := validClaims()
		claims["iss"] = "someone-else"
		if _, err := v.ValidateToken(keys.signToken(t, claims)); err == nil {
			t.Error("expected issuer error")
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := validClaims()
		claims["aud"] = "other-api"
		if _, err := v.ValidateToken(keys.signToken(t, claims)); err == nil {
			t.Error("expected audience error")
		}
	})

	t.Run("missing tenant claim", func(t *testing.T) {
		claims := validClaims()
		delete(claims, "tenant_id")
		if _, err := v.ValidateToken(keys.signToken(t, claims)); err == nil {
			t.Error("expected tenant_id error")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		claims := validClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		if _, err := v.ValidateToken(keys.signToken(t, claims)); err == nil {
			t.Error("expected expiry error")
		}
	})

	t.Run("token signed with different key", func(t *testing.T) {
		other := generateTestKeys(t)
		if _, err := v.ValidateToken(other.signToken(t, validClaims())); err == nil {
			t.Error("expected signature error")
		}
	})

	t.Run("HMAC signing method rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
		signed, err := token.SignedString([]byte("secret"))
		if err != nil {
			t.Fatalf("sign HMAC token: %v", err)
		}
		if _, err := v.ValidateToken(signed); err == nil {
			t.Error("expected signing method error")
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := v.ValidateToken("not.a.token"); err == nil {
			t.Error("expected parse error")
		}
	})
}

func ginTestRouter(v *JWTValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(v))
	r.GET("/whoami", func(c *gin.Context) {
		tenant, ok := TenantFromGin(c)
		if !ok {
			tenant = "anonymous"
		}
		c.JSON(http.StatusOK, gin.H{"tenant": tenant})
	})
	return r
}

func TestGinMiddleware(t *testing.T) {
	keys := generateTestKeys(t)
	v, err := NewJWTValidator(keys.publicPEM, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}

	validToken := keys.signToken(t, jwt.MapClaims{
		"iss":       testIssuer,
		"aud":       testAudience,
		"tenant_id": "acme",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantTenant string
	}{
		{
			name:       "valid bearer token",
			authHeader: "Bearer " + validToken,
			wantStatus: http.StatusOK,
			wantTenant: "acme",
		},
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed header",
			authHeader: "Token abc",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			authHeader: "Bearer garbage",
			wantStatus: http.StatusUnauthorized,
		},
	}

	router := ginTestRouter(v)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantTenant != "" {
				var resp map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp["tenant"] != tt.wantTenant {
					t.Errorf("tenant = %q, want %q", resp["tenant"], tt.wantTenant)
				}
			}
		})
	}
}

func TestGinMiddlewareNilValidatorPassesThrough(t *testing.T) {
	router := ginTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["tenant"] != "anonymous" {
		t.Errorf("tenant = %q, want anonymous", resp["tenant"])
	}
}

func TestGinMiddlewarePopulatesRequestContext(t *testing.T) {
	keys := generateTestKeys(t)
	v, err := NewJWTValidator(keys.publicPEM, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware(v))
	router.GET("/ctx-tenant", func(c *gin.Context) {
		tenant, ok := GetTenantIDFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant missing from request context"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenant": tenant})
	})

	token := keys.signToken(t, jwt.MapClaims{
		"iss":       testIssuer,
		"aud":       testAudience,
		"tenant_id": "acme",
		"iat":       time.Now().Unix(),
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/ctx-tenant", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["tenant"] != "acme" {
		t.Errorf("tenant = %q, want acme", resp["tenant"])
	}
}
