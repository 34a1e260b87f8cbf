package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"llamabot/observability/logging"
)

const defaultPageSize = 1000

// The role name is interpolated as the where-clause field; everything else
// travels as variables. Pages walk an id cursor because hosted indexers cap
// skip offsets.
const streamsQuery = `query ActiveStreams($owner: String!, $first: Int!, $after: String!) {
  streams(where: {%s: $owner, active: true, paused: false, id_gt: $after}, first: $first, orderBy: id, orderDirection: asc) {
    id
    contract { address }
    payer { address }
    payee { address }
    token { address }
    amountPerSec
  }
}`

// SubgraphConfig configures the stream subgraph client.
type SubgraphConfig struct {
	Endpoint  string
	Timeout   time.Duration
	PageSize  int
	RateLimit float64
}

// SubgraphClient resolves streams from a LlamaPay subgraph over GraphQL.
type SubgraphClient struct {
	endpoint   string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSubgraphClient constructs a client with sane defaults.
func NewSubgraphClient(cfg SubgraphConfig) (*SubgraphClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("directory: subgraph endpoint required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &SubgraphClient{
		endpoint:   endpoint,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		limiter:    limiter,
	}, nil
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphAccount struct {
	Address string `json:"address"`
}

type graphStream struct {
	ID           string       `json:"id"`
	Contract     graphAccount `json:"contract"`
	Payer        graphAccount `json:"payer"`
	Payee        graphAccount `json:"payee"`
	Token        graphAccount `json:"token"`
	AmountPerSec string       `json:"amountPerSec"`
}

type graphResponse struct {
	Data struct {
		Streams []graphStream `json:"streams"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ActiveStreams pages through every active, unpaused stream where owner holds role.
func (c *SubgraphClient) ActiveStreams(ctx context.Context, owner common.Address, role Role) ([]Stream, error) {
	if c == nil {
		return nil, fmt.Errorf("directory: client not configured")
	}
	if role != RolePayer && role != RolePayee {
		return nil, fmt.Errorf("directory: unknown role %q", role)
	}
	query := fmt.Sprintf(streamsQuery, role)
	var (
		out   []Stream
		after string
	)
	for {
		page, err := c.fetchPage(ctx, query, owner, after)
		if err != nil {
			return nil, err
		}
		for _, raw := range page {
			stream, err := raw.toStream()
			if err != nil {
				return nil, fmt.Errorf("directory: %w", err)
			}
			out = append(out, stream)
		}
		if len(page) < c.pageSize {
			return out, nil
		}
		next := page[len(page)-1].ID
		if next == "" || next == after {
			return nil, fmt.Errorf("directory: page cursor did not advance past %q", after)
		}
		after = next
	}
}

func (c *SubgraphClient) fetchPage(ctx context.Context, query string, owner common.Address, after string) ([]graphStream, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("directory: rate limit: %w", err)
	}
	body, err := json.Marshal(graphRequest{
		Query: query,
		Variables: map[string]any{
			"owner": strings.ToLower(owner.Hex()),
			"first": c.pageSize,
			"after": after,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("directory: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("directory: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: call: %w", logging.ScrubURLError(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("directory: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var payload graphResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("directory: decode: %w", err)
	}
	if len(payload.Errors) > 0 {
		return nil, fmt.Errorf("directory: query failed: %s", payload.Errors[0].Message)
	}
	return payload.Data.Streams, nil
}

func (s graphStream) toStream() (Stream, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s.AmountPerSec), 10)
	if !ok || amount.Sign() < 0 {
		return Stream{}, fmt.Errorf("invalid amountPerSec %q", s.AmountPerSec)
	}
	addrs := map[string]string{
		"contract": s.Contract.Address,
		"payer":    s.Payer.Address,
		"payee":    s.Payee.Address,
	}
	for field, value := range addrs {
		if !common.IsHexAddress(value) {
			return Stream{}, fmt.Errorf("invalid %s address %q", field, value)
		}
	}
	stream := Stream{
		Contract:     common.HexToAddress(s.Contract.Address),
		Payer:        common.HexToAddress(s.Payer.Address),
		Payee:        common.HexToAddress(s.Payee.Address),
		AmountPerSec: amount,
	}
	if common.IsHexAddress(s.Token.Address) {
		stream.Token = common.HexToAddress(s.Token.Address)
	}
	return stream, nil
}
