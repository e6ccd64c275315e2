package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// errNoCredentials signals an AssumeRole response that succeeded but
// carried no credential block.
var errNoCredentials = errors.New("assume role response contained no credentials")

// AssumedCredentials returns currently-valid temporary signing credentials,
// assuming the configured role when the cache is empty or has less than the
// configured buffer of lifetime remaining. The seller identifier is bound
// as the assumption's External ID. Like token refresh, the assumption is
// single-flighted behind a mutex.
func (m *Manager) AssumedCredentials(ctx context.Context) (Credentials, error) {
	if strings.TrimSpace(m.cfg.RoleArn) == "" {
		return Credentials{}, &ConfigurationError{Field: "role_arn"}
	}
	if strings.TrimSpace(m.cfg.SellerID) == "" {
		return Credentials{}, &ConfigurationError{Field: "seller_id"}
	}

	m.credMu.Lock()
	defer m.credMu.Unlock()

	if m.creds != nil && time.Until(m.creds.ExpiresAt) > m.credBuffer {
		m.logger.Debug().Time("expires_at", m.creds.ExpiresAt).Msg("Using cached assumed credentials")
		return *m.creds, nil
	}

	out, err := m.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(m.cfg.RoleArn),
		RoleSessionName: aws.String(roleSessionName),
		ExternalId:      aws.String(m.cfg.SellerID),
		DurationSeconds: aws.Int32(credentialSessionSeconds),
	})
	if err != nil {
		roleAssumptionsTotal.WithLabelValues("failure").Inc()
		return Credentials{}, &AuthenticationError{Op: "assume_role", Err: err}
	}
	if out.Credentials == nil {
		roleAssumptionsTotal.WithLabelValues("failure").Inc()
		return Credentials{}, &AuthenticationError{Op: "assume_role", Err: errNoCredentials}
	}
	roleAssumptionsTotal.WithLabelValues("success").Inc()

	creds := Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		ExpiresAt:       aws.ToTime(out.Credentials.Expiration),
	}
	m.creds = &creds

	m.logger.Info().
		Time("expires_at", creds.ExpiresAt).
		Msg("Assumed role credentials refreshed")

	return creds, nil
}
