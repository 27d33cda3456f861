package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	files "github.com/ipfs/boxo/files"
	"github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"
	ipfsApi "github.com/ipfs/kubo/client/rpc"
	"github.com/ipfs/kubo/core/coreiface/options"
	log "github.com/sirupsen/logrus"
)

// ErrNotAZip means the fetched content does not start with the ZIP local
// file header magic.
var ErrNotAZip = errors.New("content is not a ZIP archive")

// zipMagic is the local file header signature every submission archive
// must begin with.
var zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// Client wraps the IPFS kubo client
type Client struct {
	api *ipfsApi.HttpApi
}

// normalizeEndpoint accepts the API endpoint in multiaddr, host:port, or
// full URL form and returns an http URL.
func normalizeEndpoint(apiURL string) string {
	if apiURL == "" {
		apiURL = "127.0.0.1:5001" // Default IPFS API endpoint
	}

	if strings.HasPrefix(apiURL, "/ip4/") || strings.HasPrefix(apiURL, "/dns/") {
		// Convert multiaddr: /ip4/172.29.0.2/tcp/5001 -> http://172.29.0.2:5001
		parts := strings.Split(apiURL, "/")
		if len(parts) >= 5 {
			host := parts[2]
			port := parts[4]
			return fmt.Sprintf("http://%s:%s", host, port)
		}
	}
	if !strings.HasPrefix(apiURL, "http://") && !strings.HasPrefix(apiURL, "https://") {
		// Simple host:port format -> add http://
		return "http://" + apiURL
	}
	return apiURL
}

// NewClient creates a new IPFS client
func NewClient(apiURL string) (*Client, error) {
	apiURL = normalizeEndpoint(apiURL)

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: true,
		},
	}

	api, err := ipfsApi.NewURLApiWithClient(apiURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create IPFS client: %w", err)
	}

	return &Client{
		api: api,
	}, nil
}

// VerifyZip checks that data begins with the ZIP local file header magic.
func VerifyZip(data []byte) error {
	if len(data) < len(zipMagic) || !bytes.Equal(data[:len(zipMagic)], zipMagic) {
		return ErrNotAZip
	}
	return nil
}

// UploadArchive stores a submission ZIP archive in IPFS and returns its CID.
// The archive is verified before upload so a corrupt bundle never gets pinned.
func (c *Client) UploadArchive(ctx context.Context, archive []byte) (string, error) {
	if err := VerifyZip(archive); err != nil {
		return "", fmt.Errorf("refusing to upload archive: %w", err)
	}

	reader := bytes.NewReader(archive)

	// Add to IPFS with CIDv1 format
	p, err := c.api.Unixfs().Add(ctx, files.NewReaderFile(reader), func(settings *options.UnixfsAddSettings) error {
		settings.CidVersion = 1
		settings.Chunker = "size-262144" // 256KB chunks
		settings.Pin = true              // Auto-pin
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to add to IPFS: %w", err)
	}

	cidStr := p.String()
	log.WithFields(log.Fields{"cid": cidStr, "bytes": len(archive)}).Info("📦 Stored submission archive in IPFS")

	return cidStr, nil
}

// FetchArchive retrieves a submission archive from IPFS by CID and verifies
// it is a ZIP before returning it.
func (c *Client) FetchArchive(ctx context.Context, cidStr string) ([]byte, error) {
	// Parse CID
	parsedCID, err := cid.Parse(cidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid CID %s: %w", cidStr, err)
	}

	ipfsPath := path.FromCid(parsedCID)
	reader, err := c.api.Unixfs().Get(ctx, ipfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get from IPFS: %w", err)
	}

	file := files.ToFile(reader)
	if file == nil {
		return nil, fmt.Errorf("expected file from IPFS")
	}
	defer file.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(file); err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	data := buf.Bytes()
	if err := VerifyZip(data); err != nil {
		return nil, fmt.Errorf("archive %s: %w", cidStr, err)
	}
	return data, nil
}

// IsAvailable checks if IPFS node is accessible
func (c *Client) IsAvailable(ctx context.Context) bool {
	// Try to get the node ID as a connectivity check
	_, err := c.api.Key().Self(ctx)
	return err == nil
}
