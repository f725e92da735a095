package grouping

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	dErrors "notaria/pkg/domainerrors"
)

// CodeReserver claims a verification code before it is handed out, so two
// concurrent group creations (or two office instances) never share a code.
// The store's uniqueness constraint remains the authoritative guard; the
// reserver just makes collisions rare enough that retries do not matter.
type CodeReserver interface {
	Reserve(ctx context.Context, code string) (bool, error)
}

// InMemoryReserver backs single-instance deployments and tests.
type InMemoryReserver struct {
	mu   sync.Mutex
	used map[string]bool
}

func NewInMemoryReserver() *InMemoryReserver {
	return &InMemoryReserver{used: make(map[string]bool)}
}

func (r *InMemoryReserver) Reserve(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used[code] {
		return false, nil
	}
	r.used[code] = true
	return true, nil
}

// maxCodeAttempts bounds the search for a free 4-digit code. The space is
// only 10000 wide, so a busy office eventually exhausts it; failing loudly
// beats spinning.
const maxCodeAttempts = 25

// NewGroupCode returns a human-readable unique group code.
func NewGroupCode() string {
	return "GRP-" + strings.ToUpper(uuid.NewString()[:8])
}

// NewVerificationCode draws random 4-digit codes until the reserver accepts
// one.
func NewVerificationCode(ctx context.Context, reserver CodeReserver) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to draw verification code")
		}
		ok, err := reserver.Reserve(ctx, code)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "verification code reservation failed")
		}
		if ok {
			return code, nil
		}
	}
	return "", dErrors.New(dErrors.CodeUnavailable, "no free verification codes available")
}

func randomCode() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", binary.BigEndian.Uint64(buf[:])%10000), nil
}
