// Package auth manages the two credential sets every signed request needs:
// the LWA bearer token obtained through the refresh-token grant, and the
// temporary signing credentials vended through role assumption. Both are
// cached and refreshed transparently, with refreshes single-flighted so
// concurrent cache misses trigger exactly one exchange.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sellerkit/spapi-client/pkg/logging"
)

// Prometheus metrics for credential management.
var (
	tokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spapi_auth_token_refreshes_total",
		Help: "Total LWA token refresh attempts by outcome",
	}, []string{"outcome"})

	roleAssumptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spapi_auth_role_assumptions_total",
		Help: "Total role assumption attempts by outcome",
	}, []string{"outcome"})
)

const (
	// DefaultTokenURL is the fixed global LWA token exchange endpoint.
	DefaultTokenURL = "https://api.amazon.com/auth/o2/token"

	// tokenExpiryBuffer is the minimum remaining lifetime for a cached
	// access token to be reused.
	tokenExpiryBuffer = 5 * time.Minute

	// defaultCredentialBuffer is the remaining-lifetime threshold below
	// which assumed credentials are refreshed.
	defaultCredentialBuffer = 10 * time.Minute

	// credentialSessionSeconds is the fixed session duration requested
	// at the vending boundary.
	credentialSessionSeconds = 3600

	roleSessionName = "spapi-client"
)

// STSAPI is the subset of the STS client used for role assumption.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Credentials are temporary signing credentials from a role assumption.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ExpiresAt       time.Time
}

// Config holds the credential manager configuration. All values are
// injected; nothing is read from the process environment.
type Config struct {
	// LWA application credentials.
	ClientID     string
	ClientSecret string
	RefreshToken string

	// Base IAM user keys used to call AssumeRole.
	AccessKeyID     string
	SecretAccessKey string

	// RoleArn is the role vended for request signing.
	RoleArn string

	// SellerID is the tenant identifier, bound as the assumption's
	// External ID so a leaked role ARN cannot be assumed for another
	// tenant (confused-deputy protection).
	SellerID string

	// Region is the AWS region used for the STS client.
	Region string

	// TokenURL overrides the token exchange endpoint (tests). Defaults
	// to DefaultTokenURL.
	TokenURL string

	// CredentialBuffer is the refresh threshold for assumed credentials.
	// Defaults to 10 minutes; values below 5 minutes are raised to 5.
	CredentialBuffer time.Duration

	// TokenStore caches the access token. Defaults to an in-process
	// store; use RedisStore to share one token across workers.
	TokenStore TokenStore

	// HTTPClient is used for the token exchange (tests, proxies).
	HTTPClient *http.Client

	// STSClient overrides the default STS client (tests).
	STSClient STSAPI
}

// Manager caches and refreshes both credential sets.
type Manager struct {
	cfg        Config
	tokenURL   string
	credBuffer time.Duration
	store      TokenStore
	sts        STSAPI
	logger     zerolog.Logger

	// tokenMu single-flights token refreshes: the holder refreshes,
	// everyone else re-reads the cache it just filled.
	tokenMu sync.Mutex

	credMu sync.Mutex
	creds  *Credentials
}

// New creates a credential manager. LWA application credentials are
// required up front; the role and seller identifiers are validated lazily
// when AssumedCredentials is first called.
func New(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if strings.TrimSpace(cfg.RefreshToken) == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	credBuffer := cfg.CredentialBuffer
	if credBuffer == 0 {
		credBuffer = defaultCredentialBuffer
	} else if credBuffer < 5*time.Minute {
		credBuffer = 5 * time.Minute
	}

	store := cfg.TokenStore
	if store == nil {
		store = NewMemoryStore()
	}

	stsClient := cfg.STSClient
	if stsClient == nil {
		stsClient = sts.NewFromConfig(aws.Config{
			Region: cfg.Region,
			Credentials: aws.NewCredentialsCache(
				awscreds.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		})
	}

	return &Manager{
		cfg:        cfg,
		tokenURL:   tokenURL,
		credBuffer: credBuffer,
		store:      store,
		sts:        stsClient,
		logger:     logging.NewLogger("auth"),
	}, nil
}
