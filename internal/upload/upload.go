package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Request describes one untrusted upload. Body is owned by the request and
// consumed at most once; the pipeline buffers the sniff prefix itself, so any
// plain io.Reader works.
type Request struct {
	Filename    string // declared by the client, used for extension lookup and display only
	ContentType string // declared by the client
	Size        int64  // declared length; advisory, <= 0 means unknown
	Body        io.Reader
}

// StoredArtifact describes a successfully persisted upload. It is created
// only on full pipeline success and never mutated afterwards.
type StoredArtifact struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	StoredName   string `json:"storedName"`
	Size         int64  `json:"size"`
	ContentType  string `json:"contentType"`
	URL          string `json:"url"`
}

// Pipeline sequences the validation steps in a fixed order, short-circuiting
// on the first failure. Content sniffing always completes before any byte is
// written to disk, so a rejected upload never leaves a file behind.
type Pipeline struct {
	registry   *Registry
	resolver   *Resolver
	store      Store
	maxBytes   int64
	publicBase string
	log        zerolog.Logger
}

// NewPipeline wires a pipeline from its injected collaborators. publicBase is
// the root-relative URL prefix under which stored files are reachable.
func NewPipeline(registry *Registry, resolver *Resolver, maxBytes int64, publicBase string, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		registry:   registry,
		resolver:   resolver,
		maxBytes:   maxBytes,
		publicBase: strings.TrimSuffix(publicBase, "/"),
		log:        log,
	}
}

// Process validates and persists one upload. On failure it returns an *Error
// whose Kind identifies the rejected step; the storage root is untouched
// unless the returned error is nil.
func (p *Pipeline) Process(ctx context.Context, req Request) (*StoredArtifact, error) {
	if req.Body == nil {
		return nil, newError(KindEmpty, "no file provided")
	}
	if p.maxBytes > 0 && req.Size > p.maxBytes {
		return nil, newError(KindTooLarge,
			"file exceeds the "+humanize.IBytes(uint64(p.maxBytes))+" limit")
	}

	ext := filepath.Ext(req.Filename)
	if ext == "" {
		return nil, newError(KindDisallowedExtension, "filename has no extension")
	}
	rule, ok := p.registry.Lookup(ext)
	if !ok {
		return nil, newError(KindDisallowedExtension, "file extension not allowed")
	}

	mediaType, _, err := mime.ParseMediaType(req.ContentType)
	if err != nil || !rule.AcceptsMime(strings.ToLower(mediaType)) {
		return nil, newError(KindDisallowedMime, "content type not allowed for this extension")
	}

	dest, err := p.resolver.Resolve(rule.Extension)
	if err != nil {
		if KindOf(err) == KindInvalidPath {
			// Unreachable with a correct resolver; treat as an invariant
			// violation rather than a routine rejection.
			p.log.Error().Ctx(ctx).
				Str("filename", req.Filename).
				Msg("resolved destination escaped the storage root")
		}
		return nil, err
	}

	prefix, err := readPrefix(req.Body)
	if err != nil {
		return nil, wrapError(KindIOError, "read upload body", err)
	}
	if len(prefix) == 0 {
		return nil, newError(KindEmpty, "uploaded file is empty")
	}
	if !MatchesFormat(prefix, rule) {
		return nil, newError(KindContentMismatch, "file content does not match its extension")
	}

	// The sniff prefix was consumed from the stream; splice it back in front
	// of the remaining body for the full copy.
	body := io.MultiReader(bytes.NewReader(prefix), req.Body)
	size, err := p.store.Put(dest, body, p.maxBytes)
	if err != nil {
		return nil, err
	}

	return &StoredArtifact{
		ID:           dest.ID,
		OriginalName: path.Base(req.Filename),
		StoredName:   dest.Name,
		Size:         size,
		ContentType:  mediaType,
		URL:          p.publicBase + "/" + dest.Name,
	}, nil
}

// readPrefix reads up to SniffLen bytes, tolerating shorter streams.
func readPrefix(r io.Reader) ([]byte, error) {
	buf := make([]byte, SniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:n], nil
}
