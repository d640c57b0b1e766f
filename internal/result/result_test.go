package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		category  Category
		domain    Domain
		retryable bool
	}{
		{CodeBindFailed, CategoryTransient, DomainBrowser, true},
		{CodeSessionExpired, CategoryPermanent, DomainSession, false},
		{CodeInvalidSelectorConfig, CategoryPermanent, DomainDOM, false},
		{CodeTimeout, CategoryTransient, DomainTransport, true},
		{CodeChannelClosed, CategoryTransient, DomainTransport, true},
		{CodeBrowserCrashed, CategoryTransient, DomainBrowser, true},
	}

	for _, tt := range tests {
		c := Classify(tt.code)
		assert.Equal(t, tt.category, c.Category, string(tt.code))
		assert.Equal(t, tt.domain, c.Domain, string(tt.code))
		assert.Equal(t, tt.retryable, c.Retryable, string(tt.code))
	}
}

func TestClassifyUnknownCodeIsPermanent(t *testing.T) {
	c := Classify(Code("NO_SUCH_CODE"))
	assert.Equal(t, CategoryPermanent, c.Category)
	assert.False(t, c.Retryable)
}

func TestResultEnvelope(t *testing.T) {
	ok := Ok("hello")
	assert.True(t, ok.OK)
	assert.Equal(t, "hello", ok.Data)
	assert.Nil(t, ok.Err)

	fail := Failf[string](CodeBindFailed, "no tab for %s", "claude.ai")
	assert.False(t, fail.OK)
	assert.Equal(t, CodeBindFailed, fail.Err.Code)
	assert.True(t, fail.Err.Retryable)
	assert.Contains(t, fail.Err.Error(), "BIND_FAILED")
}
