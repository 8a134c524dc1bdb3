package container

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/spf13/afero"
	srtgo "github.com/zsiec/srtgo"
)

// byteSource is the transport under a format backend.
type byteSource interface {
	io.ReadSeekCloser
	Size() int64
	Seekable() bool
	Live() bool
	Name() string
}

// openSource opens the transport named by uri's scheme.
func openSource(ctx context.Context, uri string, o Options) (byteSource, error) {
	u, err := url.Parse(uri)
	if err != nil || len(u.Scheme) <= 1 {
		return openFile(o.Fs, uri)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return openFile(o.Fs, u.Path)
	case "http", "https":
		return openHTTP(ctx, u, o.Protocol)
	case "srt":
		return openSRT(ctx, u, o.Protocol)
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedFormat, u.Scheme)
	}
}

type fileSource struct {
	afero.File
	size int64
}

func openFile(fs afero.Fs, path string) (*fileSource, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &fileSource{File: f, size: fi.Size()}, nil
}

func (s *fileSource) Size() int64    { return s.size }
func (s *fileSource) Seekable() bool { return true }
func (s *fileSource) Live() bool     { return false }

// httpSource reads a URL, re-requesting with a Range header after a seek.
type httpSource struct {
	client    *http.Client
	closeRT   func() error
	url       string
	opts      ProtocolOptions
	size      int64
	seekable  bool
	pos       int64
	body      *pump
	cancelReq context.CancelFunc
}

func openHTTP(ctx context.Context, u *url.URL, opts ProtocolOptions) (*httpSource, error) {
	s := &httpSource{url: u.String(), opts: opts, closeRT: func() error { return nil }}
	if opts.HTTP3 && u.Scheme == "https" {
		rt := &http3.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS13, RootCAs: opts.RootCAs},
			QUICConfig:      &quic.Config{MaxIdleTimeout: 30 * time.Second},
		}
		s.client = &http.Client{Transport: rt}
		s.closeRT = rt.Close
	} else {
		rt := http.DefaultTransport.(*http.Transport).Clone()
		if opts.RootCAs != nil {
			rt.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: opts.RootCAs}
		}
		s.client = &http.Client{Transport: rt}
	}

	resp, err := s.request(ctx, -1)
	if err != nil {
		_ = s.closeRT()
		return nil, err
	}
	s.size = resp.ContentLength
	s.seekable = resp.Header.Get("Accept-Ranges") == "bytes" && s.size > 0
	s.body = newPump(resp.Body, opts.StallTimeout)
	return s, nil
}

// request issues a GET, from byte off when off >= 0. The header phase is
// bounded by the protocol timeout; the body stays open until closed.
func (s *httpSource) request(ctx context.Context, off int64) (*http.Response, error) {
	reqCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, v := range s.opts.Headers {
		req.Header.Set(k, v)
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}
	if off >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", off))
	}

	timer := time.AfterFunc(s.opts.Timeout, cancel)
	stop := context.AfterFunc(ctx, cancel)
	resp, err := s.client.Do(req)
	timer.Stop()
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("GET %s: %w", s.url, err)
	}
	wantStatus := http.StatusOK
	if off >= 0 {
		wantStatus = http.StatusPartialContent
	}
	if resp.StatusCode != wantStatus {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("GET %s: unexpected status %s", s.url, resp.Status)
	}
	if s.cancelReq != nil {
		s.cancelReq()
	}
	s.cancelReq = cancel
	return resp, nil
}

func (s *httpSource) Read(p []byte) (int, error) {
	if s.body == nil {
		resp, err := s.request(context.Background(), s.pos)
		if err != nil {
			return 0, err
		}
		s.body = newPump(resp.Body, s.opts.StallTimeout)
	}
	n, err := s.body.Read(p)
	s.pos += int64(n)
	return n, err
}

func (s *httpSource) Seek(off int64, whence int) (int64, error) {
	if !s.seekable {
		return 0, ErrNotSeekable
	}
	switch whence {
	case io.SeekCurrent:
		off += s.pos
	case io.SeekEnd:
		off += s.size
	}
	if off < 0 {
		return 0, fmt.Errorf("negative position %d", off)
	}
	if off == s.pos && s.body != nil {
		return off, nil
	}
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
	s.pos = off
	return off, nil
}

func (s *httpSource) Close() error {
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
	if s.cancelReq != nil {
		s.cancelReq()
	}
	return s.closeRT()
}

func (s *httpSource) Size() int64    { return s.size }
func (s *httpSource) Seekable() bool { return s.seekable }
func (s *httpSource) Live() bool     { return s.size <= 0 }
func (s *httpSource) Name() string   { return s.url }

// srtSource is a live MPEG-TS feed pulled from an SRT listener.
type srtSource struct {
	name string
	conn *srtgo.Conn
	body *pump
}

func openSRT(ctx context.Context, u *url.URL, opts ProtocolOptions) (*srtSource, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = opts.SRTLatency
	streamID := opts.SRTStreamID
	if streamID == "" {
		streamID = u.Query().Get("streamid")
	}
	if streamID != "" {
		cfg.StreamID = streamID
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(u.Host, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()
	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial %s: %w", u.Host, res.err)
		}
		return &srtSource{name: u.String(), conn: res.conn, body: newPump(res.conn, opts.StallTimeout)}, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("SRT dial %s timed out after %s", u.Host, opts.Timeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

func (s *srtSource) Read(p []byte) (int, error)     { return s.body.Read(p) }
func (s *srtSource) Seek(int64, int) (int64, error) { return 0, ErrNotSeekable }
func (s *srtSource) Close() error                   { return s.body.Close() }
func (s *srtSource) Size() int64                    { return -1 }
func (s *srtSource) Seekable() bool                 { return false }
func (s *srtSource) Live() bool                     { return true }
func (s *srtSource) Name() string                   { return s.name }
