package blockstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// codec names as the daemon's block/put API expects them.
func (c Codec) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecDagJSON:
		return "dag-json"
	case CodecDagCBOR:
		return "dag-cbor"
	default:
		return fmt.Sprintf("codec(0x%x)", uint64(c))
	}
}

// DaemonStore talks to an external IPFS daemon over its HTTP API
// (the /api/v0 RPC surface on port 5001 by default).
type DaemonStore struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewDaemonStore creates a store backed by the daemon at host:port.
func NewDaemonStore(endpoint string) *DaemonStore {
	return &DaemonStore{
		baseURL: "http://" + endpoint + "/api/v0",
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  log.With().Str("component", "blockstore").Str("backend", "ipfs").Str("endpoint", endpoint).Logger(),
	}
}

// post issues an API call and returns the response body.
func (s *DaemonStore) post(ctx context.Context, path string, params url.Values, body io.Reader, contentType string) ([]byte, error) {
	u := s.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrStorage, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStorage, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrStorage, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrStorage, path, resp.StatusCode, string(data))
	}
	return data, nil
}

// Put uploads data via block/put and returns the daemon-assigned CID.
func (s *DaemonStore) Put(ctx context.Context, data []byte, codec Codec, pin bool) (cid.Cid, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("data", "block")
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: multipart: %v", ErrStorage, err)
	}
	if _, err := part.Write(data); err != nil {
		return cid.Undef, fmt.Errorf("%w: multipart write: %v", ErrStorage, err)
	}
	if err := mw.Close(); err != nil {
		return cid.Undef, fmt.Errorf("%w: multipart close: %v", ErrStorage, err)
	}

	params := url.Values{
		"cid-codec": {codec.String()},
		"mhtype":    {"sha2-256"},
		"pin":       {fmt.Sprintf("%t", pin)},
	}
	respBody, err := s.post(ctx, "/block/put", params, &buf, mw.FormDataContentType())
	if err != nil {
		return cid.Undef, err
	}

	var result struct {
		Key  string `json:"Key"`
		Size int    `json:"Size"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return cid.Undef, fmt.Errorf("%w: block/put response: %v", ErrDeserialization, err)
	}
	c, err := cid.Decode(result.Key)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: block/put returned invalid cid %q: %v", ErrDeserialization, result.Key, err)
	}
	return c, nil
}

// Get fetches block bytes via block/get.
func (s *DaemonStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	return s.post(ctx, "/block/get", url.Values{"arg": {c.String()}}, nil, "")
}

// GetJSON retrieves and decodes a dag-json block into out.
func (s *DaemonStore) GetJSON(ctx context.Context, c cid.Cid, out any) error {
	data, err := s.Get(ctx, c)
	if err != nil {
		return err
	}
	return unmarshalJSON(data, out)
}

// PutJSON encodes v as dag-json and stores it.
func (s *DaemonStore) PutJSON(ctx context.Context, v any, pin bool) (cid.Cid, error) {
	data, err := marshalJSON(v)
	if err != nil {
		return cid.Undef, err
	}
	return s.Put(ctx, data, CodecDagJSON, pin)
}

// Unpin removes the daemon pin for c. An already-absent pin is not an error.
func (s *DaemonStore) Unpin(ctx context.Context, c cid.Cid) error {
	_, err := s.post(ctx, "/pin/rm", url.Values{"arg": {c.String()}}, nil, "")
	if err != nil {
		// The daemon reports "not pinned" as an error; treat it as success.
		s.logger.Debug().Str("cid", c.String()).Err(err).Msg("unpin ignored")
		return nil
	}
	return nil
}

// Stat queries repo/stat for block counts.
func (s *DaemonStore) Stat(ctx context.Context) (Stats, error) {
	respBody, err := s.post(ctx, "/repo/stat", nil, nil, "")
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrIPLDStorage, err)
	}
	var result struct {
		NumObjects int64 `json:"NumObjects"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Stats{}, fmt.Errorf("%w: repo/stat response: %v", ErrDeserialization, err)
	}
	return Stats{Backend: "ipfs", BlockCount: result.NumObjects}, nil
}

// Verify probes the daemon's identity endpoint and returns its description.
// Used by the driver's connectivity check.
func (s *DaemonStore) Verify(ctx context.Context) (map[string]any, error) {
	respBody, err := s.post(ctx, "/id", nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%w: daemon unreachable: %v", ErrIPLDStorage, err)
	}
	var info map[string]any
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, fmt.Errorf("%w: id response: %v", ErrIPLDStorage, err)
	}
	return info, nil
}

// Close releases the HTTP client's idle connections. It never fails.
func (s *DaemonStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

var _ Store = (*DaemonStore)(nil)
