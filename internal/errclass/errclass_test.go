package errclass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/d60-Lab/feed-service/internal/repository"
)

type notFoundErr struct{}

func (notFoundErr) Error() string  { return "row not found" }
func (notFoundErr) NotFound() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, Unknown},
		{"degraded sentinel", fmt.Errorf("push: %w", ErrDegraded), Degraded},
		{"permanent sentinel", fmt.Errorf("job: %w", ErrPermanent), Permanent},
		{"not found marker", fmt.Errorf("author: %w", notFoundErr{}), NotFound},
		{"conn refused", syscall.ECONNREFUSED, Transient},
		{"deadline", context.DeadlineExceeded, Transient},
		{"plain error", errors.New("WRONGTYPE Operation against a key"), Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestRepositorySentinelsClassifyNotFound(t *testing.T) {
	assert.Equal(t, NotFound, Classify(repository.ErrUserNotFound))
	assert.Equal(t, NotFound, Classify(repository.ErrPostNotFound))
	assert.Equal(t, NotFound, Classify(fmt.Errorf("lookup: %w", repository.ErrUserNotFound)))

	// sentinel 同时保持 errors.Is 可比
	assert.True(t, errors.Is(fmt.Errorf("x: %w", repository.ErrPostNotFound), repository.ErrPostNotFound))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "permanent", Permanent.String())
	assert.Equal(t, "unknown", Unknown.String())
}

func TestIsConnection(t *testing.T) {
	assert.False(t, IsConnection(nil))
	assert.False(t, IsConnection(errors.New("WRONGTYPE Operation against a key")))
	assert.False(t, IsConnection(errors.New("ERR value is not an integer")))

	assert.True(t, IsConnection(io.EOF))
	assert.True(t, IsConnection(syscall.ECONNRESET))
	assert.True(t, IsConnection(&net.OpError{Op: "dial", Err: errors.New("timeout")}))
	assert.True(t, IsConnection(errors.New("READONLY You can't write against a read only replica.")))
	assert.True(t, IsConnection(errors.New("LOADING Redis is loading the dataset in memory")))
	assert.True(t, IsConnection(fmt.Errorf("exec: %w", context.DeadlineExceeded)))
}
