package s3blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureScheme(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", ensureScheme("localhost:9000", false))
	assert.Equal(t, "https://minio.internal:9000", ensureScheme("minio.internal:9000", true))
	assert.Equal(t, "http://already.example", ensureScheme("http://already.example", true),
		"an explicit scheme wins over use_ssl")
}
