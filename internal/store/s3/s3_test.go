package s3

import (
	"testing"

	"github.com/jotfs/fsstress/internal/store"

	"github.com/stretchr/testify/assert"
)

func TestImplements(t *testing.T) {
	// Ensure the S3 Store implements the Store interface
	assert.Implements(t, (*store.Store)(nil), new(Store))
}

func TestNew(t *testing.T) {
	s, err := New(Config{
		Region:     "us-east-1",
		Endpoint:   "localhost:9000",
		AccessKey:  "minioadmin",
		SecretKey:  "minioadmin",
		PathStyle:  true,
		DisableSSL: true,
	})
	assert.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, "http://localhost:9000", s.client.Endpoint)
}
