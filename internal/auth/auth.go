// Package auth signs announcement socket connections with HMAC-SHA256.
//
// Each connection attempt gets a fresh Authorization: a random nonce, the
// joined topic list, the receive window and a reference timestamp, serialized
// as a sorted query string and signed with the account secret. The secret
// never leaves this package; only the public key travels in a header.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Query parameter names. The nonce travels as "random".
const (
	ParamNonce      = "random"
	ParamRecvWindow = "recvWindow"
	ParamSignature  = "signature"
	ParamTimestamp  = "timestamp"
	ParamTopic      = "topic"
)

// APIKeyHeader carries the public key on the websocket handshake.
const APIKeyHeader = "X-MBX-APIKEY"

// TopicSeparator joins subscription topics into the topic parameter.
const TopicSeparator = "|"

// Defaults for the signer.
const (
	DefaultNonceLength = 32
	DefaultRecvWindow  = 30 * time.Second
)

const nonceAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Credentials holds the API key and secret for signing connections.
type Credentials struct {
	Key    string // Public API key, sent as X-MBX-APIKEY
	Secret string // HMAC secret, never sent
}

// LoadCredentials validates and returns credentials.
func LoadCredentials(key, secret string) (*Credentials, error) {
	if key == "" {
		return nil, errors.New("API key is required")
	}
	if secret == "" {
		return nil, errors.New("API secret is required")
	}
	return &Credentials{Key: key, Secret: secret}, nil
}

// String redacts the secret so credentials can be logged safely.
func (c Credentials) String() string {
	return "Credentials{Key: " + c.Key + ", Secret: [redacted]}"
}

// Param is a single key/value pair of the signed parameter set.
type Param struct {
	Key   string
	Value string
}

// Authorization is the signed parameter set for one connection attempt.
type Authorization struct {
	Nonce      string
	Topic      string
	RecvWindow time.Duration
	Timestamp  time.Time
	Signature  string
}

// Params returns the signed parameters sorted by key, excluding the signature.
func (a *Authorization) Params() []Param {
	params := []Param{
		{Key: ParamNonce, Value: a.Nonce},
		{Key: ParamRecvWindow, Value: strconv.FormatInt(a.RecvWindow.Milliseconds(), 10)},
		{Key: ParamTimestamp, Value: strconv.FormatInt(a.Timestamp.UnixMilli(), 10)},
		{Key: ParamTopic, Value: a.Topic},
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Key < params[j].Key })
	return params
}

// Canonical returns the string that is signed.
func (a *Authorization) Canonical() string {
	return encode(a.Params())
}

// Query returns the wire query string: the canonical string followed by the
// signature. Order matches Canonical exactly.
func (a *Authorization) Query() string {
	return a.Canonical() + "&" + ParamSignature + "=" + a.Signature
}

// URL appends the query to a base websocket address.
func (a *Authorization) URL(base string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + a.Query()
}

func encode(params []Param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// Signer produces Authorizations for connection attempts.
type Signer struct {
	creds       Credentials
	recvWindow  time.Duration
	nonceLength int
	random      io.Reader
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithRecvWindow sets the validity window sent with each authorization.
func WithRecvWindow(d time.Duration) SignerOption {
	return func(s *Signer) {
		s.recvWindow = d
	}
}

// WithNonceLength sets the nonce length.
func WithNonceLength(n int) SignerOption {
	return func(s *Signer) {
		s.nonceLength = n
	}
}

// WithRandom sets the randomness source for nonces.
func WithRandom(r io.Reader) SignerOption {
	return func(s *Signer) {
		s.random = r
	}
}

// NewSigner creates a Signer for the given credentials.
func NewSigner(creds Credentials, opts ...SignerOption) *Signer {
	s := &Signer{
		creds:       creds,
		recvWindow:  DefaultRecvWindow,
		nonceLength: DefaultNonceLength,
		random:      rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// APIKey returns the public key for the handshake header.
func (s *Signer) APIKey() string {
	return s.creds.Key
}

// Sign builds and signs a fresh Authorization for the topics at the given
// reference time.
func (s *Signer) Sign(topics []string, reference time.Time) (*Authorization, error) {
	if len(topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}

	nonce, err := s.nonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	a := &Authorization{
		Nonce:      nonce,
		Topic:      strings.Join(topics, TopicSeparator),
		RecvWindow: s.recvWindow,
		Timestamp:  reference,
	}
	a.Signature = Sum(s.creds.Secret, a.Canonical())
	return a, nil
}

// Verify reports whether the authorization carries a valid signature for secret.
func Verify(secret string, a *Authorization) bool {
	want := Sum(secret, a.Canonical())
	return hmac.Equal([]byte(want), []byte(a.Signature))
}

// Sum returns the lowercase hex HMAC-SHA256 of payload.
func Sum(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) nonce() (string, error) {
	max := big.NewInt(int64(len(nonceAlphabet)))
	buf := make([]byte, s.nonceLength)
	for i := range buf {
		n, err := rand.Int(s.random, max)
		if err != nil {
			return "", err
		}
		buf[i] = nonceAlphabet[n.Int64()]
	}
	return string(buf), nil
}
