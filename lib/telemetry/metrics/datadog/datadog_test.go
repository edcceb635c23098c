package datadog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSampleRate(t *testing.T) {
	assert.Equal(t, float64(DefaultSampleRate), getSampleRate("foo"))
	assert.Equal(t, float64(DefaultSampleRate), getSampleRate(1.25))
	assert.Equal(t, float64(1), getSampleRate(1))
	assert.Equal(t, 0.33, getSampleRate(0.33))
	assert.Equal(t, float64(DefaultSampleRate), getSampleRate(0))
	assert.Equal(t, float64(DefaultSampleRate), getSampleRate(-0.55))
}

func TestGetTags(t *testing.T) {
	assert.Equal(t, []string{}, getTags(nil))
	assert.Equal(t, []string{}, getTags([]string{}))
	assert.Equal(t, []string{"env:bar", "a:b"}, getTags([]interface{}{"env:bar", "a:b"}))
}

func TestToDatadogTags(t *testing.T) {
	assert.ElementsMatch(t, []string{"job_id:orgs_daily", "status:success"},
		toDatadogTags(map[string]string{"job_id": "orgs_daily", "status": "success"}))
}
