package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
)

var avery = domain.ActorContext{ActorID: "u_avery", ActorName: "Avery", TenantID: "fam_1"}

func TestIssueAndParse(t *testing.T) {
	secret := []byte("secret")
	issued, err := Issue(secret, avery, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	actor, err := Parse(secret, issued)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if actor != avery {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := Issue(secret, avery, -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	_, err = Parse(secret, issued)
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) || domainErr.Code != "TOKEN_EXPIRED" {
		t.Fatalf("expected TOKEN_EXPIRED, got %v", err)
	}
}

func TestParseRejectsTampering(t *testing.T) {
	issued, err := Issue([]byte("secret"), avery, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := Parse([]byte("other"), issued); domain.KindOf(err) != domain.KindNotAuthorized {
		t.Fatalf("expected NotAuthorized, got %v", err)
	}
	if _, err := Parse([]byte("secret"), issued+"x"); domain.KindOf(err) != domain.KindNotAuthorized {
		t.Fatalf("expected NotAuthorized, got %v", err)
	}
}

func TestParseRejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{Name: "Avery", Tenant: "fam_1", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u_avery",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := Parse([]byte("secret"), unsigned); domain.KindOf(err) != domain.KindNotAuthorized {
		t.Fatalf("expected NotAuthorized, got %v", err)
	}
}

func TestParseRequiresTenant(t *testing.T) {
	secret := []byte("secret")
	claims := Claims{Name: "Avery", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u_avery",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Parse(secret, token); domain.KindOf(err) != domain.KindNotAuthorized {
		t.Fatalf("expected NotAuthorized, got %v", err)
	}
}

func TestIssueValidatesActor(t *testing.T) {
	if _, err := Issue([]byte("secret"), domain.ActorContext{ActorID: "u"}, time.Hour); err == nil {
		t.Fatal("expected error for missing tenant")
	}
	if _, err := Issue(nil, avery, time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		token string
		ok    bool
	}{
		"Bearer abc":  {"abc", true},
		"bearer  abc": {"abc", true},
		"Bearer ":     {"", false},
		"Basic abc":   {"", false},
		"":            {"", false},
	}
	for header, want := range cases {
		token, ok := BearerToken(header)
		if token != want.token || ok != want.ok {
			t.Errorf("BearerToken(%q) = %q, %v", header, token, ok)
		}
	}
}
