package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/banshee-data/carputer/internal/httputil"
	"github.com/banshee-data/carputer/internal/monitoring"
)

// MJPEGSource reads frames from a multipart/x-mixed-replace JPEG stream, as
// served by mjpg-streamer and most webcam streamers. A background reader
// keeps only the newest part, so a slow drive cycle never falls behind the
// stream.
type MJPEGSource struct {
	url    string
	body   io.Closer
	cancel context.CancelFunc

	mu     sync.Mutex
	latest []byte
	fresh  bool

	ready chan struct{}
	done  chan struct{}
	err   error // set before done is closed
}

// OpenMJPEG starts streaming from url. The stream lives until Close.
func OpenMJPEG(ctx context.Context, client httputil.HTTPClient, url string) (*MJPEGSource, error) {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("camera request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to camera %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("camera %s: unexpected status %s", url, resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("camera %s: not an mjpeg stream (content type %q)", url, resp.Header.Get("Content-Type"))
	}

	s := &MJPEGSource{
		url:    url,
		body:   resp.Body,
		cancel: cancel,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.readParts(multipart.NewReader(resp.Body, params["boundary"]))
	return s, nil
}

func (s *MJPEGSource) readParts(r *multipart.Reader) {
	defer close(s.done)
	for {
		part, err := r.NextPart()
		if err != nil {
			s.err = err
			return
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			s.err = err
			return
		}

		s.mu.Lock()
		if s.fresh {
			monitoring.Debugf("%s: dropped a stale frame", s.url)
		}
		s.latest, s.fresh = data, true
		s.mu.Unlock()

		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
}

func (s *MJPEGSource) take() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		return nil, false
	}
	s.fresh = false
	return s.latest, true
}

// Read returns the newest frame not yet read, blocking until one arrives.
// Once the stream has ended and every frame was read it returns ErrNoFrame.
func (s *MJPEGSource) Read() (image.Image, error) {
	for {
		if data, ok := s.take(); ok {
			return decodeJPEG(data)
		}
		select {
		case <-s.ready:
		case <-s.done:
			if data, ok := s.take(); ok {
				return decodeJPEG(data)
			}
			if errors.Is(s.err, io.EOF) || errors.Is(s.err, context.Canceled) {
				return nil, ErrNoFrame
			}
			return nil, fmt.Errorf("next mjpeg part: %w", s.err)
		}
	}
}

func decodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Close stops the stream and waits for the background reader to exit.
func (s *MJPEGSource) Close() error {
	s.cancel()
	err := s.body.Close()
	<-s.done
	return err
}

func (s *MJPEGSource) Name() string {
	return s.url
}
