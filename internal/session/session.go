// Package session resolves which cart a request acts on.
//
// The calling UI sends the Cart-Session structured-field dictionary
// (RFC 8941):
//
//	Cart-Session: user="/users/8b1f/", version="1.4.0"
//	Cart-Session: anon="5f0e0c1c-8d3e-4a63-9a43-2f1d0c9a9f11"
//
// Authentication happens upstream; this package only trusts the identity it
// is handed. Anonymous sessions keep their cart in memory and never persist.
package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"
	"golang.org/x/mod/semver"
)

// Header is the request and response header carrying the session.
const Header = "Cart-Session"

// Error codes written by the middleware.
const (
	CodeSessionInvalid           = "cart_session_invalid"
	CodeClientVersionUnsupported = "client_version_unsupported"
)

// Session identifies the owner of the active cart.
type Session struct {
	User          string // portal user @id; empty for anonymous sessions
	Token         string // anonymous token; empty for logged-in users
	ClientVersion string // semver of the calling UI, optional

	// Minted is set when the token was generated for this request.
	Minted bool
}

// Anonymous reports whether the session has no logged-in user.
func (s Session) Anonymous() bool { return s.User == "" }

// Key identifies the session's cart in a registry.
func (s Session) Key() string {
	if s.Anonymous() {
		return "anon:" + s.Token
	}
	return "user:" + s.User
}

// NewAnonymous mints a fresh anonymous session.
func NewAnonymous() Session {
	return Session{Token: uuid.NewString(), Minted: true}
}

// Parse extracts the session from a Cart-Session header value.
// A user member wins over an anon member when both are present.
func Parse(header string) (Session, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Session{}, errors.New("empty Cart-Session header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return Session{}, fmt.Errorf("invalid Cart-Session header: %w", err)
	}

	var s Session
	if s.User, err = stringMember(dict, "user"); err != nil {
		return Session{}, err
	}
	if s.Token, err = stringMember(dict, "anon"); err != nil {
		return Session{}, err
	}
	if s.ClientVersion, err = stringMember(dict, "version"); err != nil {
		return Session{}, err
	}

	if s.User != "" {
		s.Token = ""
	} else if s.Token == "" {
		return Session{}, errors.New("missing user or anon member")
	}
	return s, nil
}

// stringMember returns the string item stored under key, or "" if absent.
func stringMember(dict *httpsfv.Dictionary, key string) (string, error) {
	member, ok := dict.Get(key)
	if !ok {
		return "", nil
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", key)
	}
	v, ok := item.Value.(string)
	if !ok {
		return "", fmt.Errorf("%s value must be a string", key)
	}
	return strings.TrimSpace(v), nil
}

// Format serializes the session back into a header value.
func (s Session) Format() string {
	dict := httpsfv.NewDictionary()
	if s.Anonymous() {
		dict.Add("anon", httpsfv.NewItem(s.Token))
	} else {
		dict.Add("user", httpsfv.NewItem(s.User))
	}
	if s.ClientVersion != "" {
		dict.Add("version", httpsfv.NewItem(s.ClientVersion))
	}
	out, err := httpsfv.Marshal(dict)
	if err != nil {
		// Only non-ASCII strings fail to marshal; fall back to the bare token.
		return fmt.Sprintf("anon=%q", s.Token)
	}
	return out
}

// VersionError reports a client too old for this service.
type VersionError struct {
	Code    string
	Message string
}

func (e *VersionError) Error() string { return e.Message }

// CheckClientVersion rejects client versions below minimum. Either may omit
// the "v" prefix; an empty client version or minimum always passes.
func CheckClientVersion(client, minimum string) error {
	if client == "" || minimum == "" {
		return nil
	}
	cv := normalizeVersion(client)
	if !semver.IsValid(cv) {
		return &VersionError{
			Code:    CodeSessionInvalid,
			Message: fmt.Sprintf("client version %q is not a semantic version", client),
		}
	}
	if semver.Compare(cv, normalizeVersion(minimum)) < 0 {
		return &VersionError{
			Code:    CodeClientVersionUnsupported,
			Message: fmt.Sprintf("client version %s is older than the minimum %s", client, minimum),
		}
	}
	return nil
}

// normalizeVersion adds the "v" prefix semver expects.
func normalizeVersion(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}
