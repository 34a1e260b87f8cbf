package chain

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"llamabot/services/botd/chain/chaintest"
)

// refusingHead fails BlockNumber the way net/http reports an unreachable endpoint.
type refusingHead struct {
	*chaintest.Fake
	endpoint string
}

func (r refusingHead) BlockNumber(context.Context) (uint64, error) {
	return 0, &url.Error{Op: "Post", URL: r.endpoint, Err: chaintest.ErrTransport}
}

func TestThrottledMasksEndpointInErrors(t *testing.T) {
	var observed error
	client := NewThrottled(refusingHead{Fake: &chaintest.Fake{}, endpoint: "https://polygon-mainnet.example/v3/SECRETKEY123"}, 0,
		WithObserver(func(_ string, _ time.Duration, err error) { observed = err }))

	_, err := client.BlockNumber(context.Background())
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if strings.Contains(err.Error(), "SECRETKEY123") {
		t.Fatalf("api key leaked into error: %v", err)
	}
	if !strings.Contains(err.Error(), "https://polygon-mainnet.example/[REDACTED]") {
		t.Fatalf("expected masked endpoint, got %v", err)
	}
	if !errors.Is(err, chaintest.ErrTransport) {
		t.Fatalf("cause lost: %v", err)
	}
	if observed == nil || strings.Contains(observed.Error(), "SECRETKEY123") {
		t.Fatalf("observer saw unmasked error: %v", observed)
	}
}
