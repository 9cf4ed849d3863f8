package taskqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyShapes(t *testing.T) {
	t.Parallel()

	q := New(nil, "myapp", WithQueue("default"))

	assert.Equal(t, "AX:INC", incrKey)
	assert.Equal(t, "myapp:default", q.incrField())
	assert.Equal(t, "AX:META:myapp:default:42", q.metaKey(42))
	assert.Equal(t, "AX:CNAME:myapp:default:nightly", q.cnameKey("nightly"))
	assert.Equal(t, "AX:UUID:myapp:default", q.uuidKey())
}
