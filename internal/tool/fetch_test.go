package tool

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telebot-agent/chatengine/internal/errs"
)

func TestValidateURLRejectsDisallowedScheme(t *testing.T) {
	_, err := validateURL(context.Background(), "ftp://example.com/file")
	require.Error(t, err)
	assert.True(t, errs.IsURLRejected(err))
}

func TestValidateURLRejectsLocalhost(t *testing.T) {
	_, err := validateURL(context.Background(), "http://localhost:8080/")
	require.Error(t, err)
	assert.True(t, errs.IsURLRejected(err))
}

func TestValidateURLRejectsDotLocalSuffix(t *testing.T) {
	_, err := validateURL(context.Background(), "http://printer.local/status")
	require.Error(t, err)
	assert.True(t, errs.IsURLRejected(err))
}

func TestValidateURLRejectsLoopbackIPLiteral(t *testing.T) {
	_, err := validateURL(context.Background(), "http://127.0.0.1/admin")
	require.Error(t, err)
	assert.True(t, errs.IsURLRejected(err))
}

func TestValidateURLRejectsBracketedIPv6Loopback(t *testing.T) {
	_, err := validateURL(context.Background(), "http://[::1]/admin")
	require.Error(t, err)
	assert.True(t, errs.IsURLRejected(err))
}

func TestValidateURLRejectsRFC1918Private(t *testing.T) {
	_, err := validateURL(context.Background(), "http://10.0.0.5/internal")
	require.Error(t, err)
	assert.True(t, errs.IsURLRejected(err))
}

func TestValidateURLRejectsLinkLocal(t *testing.T) {
	_, err := validateURL(context.Background(), "http://169.254.1.1/")
	require.Error(t, err)
	assert.True(t, errs.IsURLRejected(err))
}

func TestValidateURLRejectsCloudMetadataAddress(t *testing.T) {
	_, err := validateURL(context.Background(), "http://169.254.169.254/latest/meta-data/")
	require.Error(t, err)
	assert.True(t, errs.IsURLRejected(err))
}

func TestValidateURLRejectsExplicitBlocklistHost(t *testing.T) {
	_, err := validateURL(context.Background(), "http://metadata.google.internal/computeMetadata/v1/")
	require.Error(t, err)
	assert.True(t, errs.IsURLRejected(err))
}

func TestValidateURLAcceptsPublicHTTPS(t *testing.T) {
	u, err := validateURL(context.Background(), "https://93.184.216.34/")
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
}

func TestRejectUnsafeIPCoversAllRanges(t *testing.T) {
	cases := []string{"127.0.0.1", "10.1.2.3", "172.16.0.1", "192.168.1.1", "169.254.0.1", "224.0.0.1", "::1"}
	for _, ip := range cases {
		err := rejectUnsafeIP(net.ParseIP(ip))
		assert.Error(t, err, ip)
		assert.True(t, errs.IsURLRejected(err), ip)
	}
}

func TestTruncateAppendsEllipsisOnlyWhenNeeded(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "he…", truncate("hello", 2))
}
