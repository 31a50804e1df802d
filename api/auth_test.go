package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-engine/leave"
)

const testSecret = "test-secret"

func TestToken_RoundTrip(t *testing.T) {
	token, err := GenerateToken(testSecret, manager, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "mgr-1", claims.Subject)
	assert.Equal(t, "manager", claims.Role)
}

func TestParseToken_Rejects(t *testing.T) {
	expired, err := GenerateToken(testSecret, amy, -time.Minute)
	require.NoError(t, err)

	otherSecret, err := GenerateToken("another-secret", amy, time.Hour)
	require.NoError(t, err)

	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "amy"},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "admin"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"other secret": otherSecret,
		"wrong alg":    wrongAlg,
		"no subject":   noSubject,
		"garbage":      "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(testSecret, token)
			assert.Error(t, err)
		})
	}
}

// me calls /api/me with the given Authorization header and dev actor
// headers, returning the status and decoded actor.
func (s *testServer) me(authorization string, headerActor leave.ActingUser) (int, ActorDTO) {
	s.t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.srv.URL+"/api/me", nil)
	require.NoError(s.t, err)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if headerActor.ID != "" {
		req.Header.Set(HeaderActorID, headerActor.ID)
		req.Header.Set(HeaderActorRole, string(headerActor.Role))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var actor ActorDTO
	if resp.StatusCode == http.StatusOK {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&actor))
	}
	return resp.StatusCode, actor
}

func TestAuthenticate_RequiredToken(t *testing.T) {
	s := newTestServer(t, AuthConfig{Secret: testSecret, Required: true})
	token, err := GenerateToken(testSecret, manager, time.Hour)
	require.NoError(t, err)

	// WHEN: A valid bearer token is sent
	status, actor := s.me("Bearer "+token, leave.ActingUser{})

	// THEN: The caller comes from the claims
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, ActorDTO{ID: "mgr-1", Role: "manager", Privileged: true}, actor)

	// AND: Without a token, dev headers are not accepted
	status, _ = s.me("", amy)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.me("Token "+token, leave.ActingUser{})
	assert.Equal(t, http.StatusUnauthorized, status, "malformed scheme")

	status, _ = s.me("Bearer nope", leave.ActingUser{})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthenticate_DevHeaders(t *testing.T) {
	s := newDevServer(t)

	status, actor := s.me("", leave.ActingUser{ID: "amy"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "employee", actor.Role, "role defaults to employee")
	assert.False(t, actor.Privileged)

	status, _ = s.me("", leave.ActingUser{ID: "amy", Role: "overlord"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.me("", leave.ActingUser{})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthenticate_HealthIsPublic(t *testing.T) {
	s := newTestServer(t, AuthConfig{Secret: testSecret, Required: true})

	resp, err := http.Get(s.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
