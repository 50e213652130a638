package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/carputer/internal/httputil"
	"github.com/banshee-data/carputer/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func jpegFrame(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func mjpegServer(t *testing.T, frames [][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		for _, f := range frames {
			hdr := textproto.MIMEHeader{}
			hdr.Set("Content-Type", "image/jpeg")
			hdr.Set("Content-Length", fmt.Sprint(len(f)))
			part, err := mw.CreatePart(hdr)
			if err != nil {
				return
			}
			part.Write(f)
		}
		mw.Close()
	}))
}

func TestMJPEGSource_ReadsFrames(t *testing.T) {
	srv := mjpegServer(t, [][]byte{
		jpegFrame(t, 32, 24, color.White),
		jpegFrame(t, 32, 24, color.Black),
	})
	defer srv.Close()

	src, err := OpenMJPEG(t.Context(), srv.Client(), srv.URL)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, srv.URL, src.Name())

	<-src.done
	img, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Less(t, r, uint32(0x1000), "the black frame sent last wins")

	_, err = src.Read()
	assert.ErrorIs(t, err, ErrNoFrame)
}

func multipartBody(t *testing.T, frames ...[]byte) ([]byte, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range frames {
		part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
		require.NoError(t, err)
		part.Write(f)
	}
	require.NoError(t, mw.Close())
	return body.Bytes(), "multipart/x-mixed-replace; boundary=" + mw.Boundary()
}

func TestMJPEGSource_ReadSkipsToNewestFrame(t *testing.T) {
	body, contentType := multipartBody(t,
		jpegFrame(t, 8, 6, color.White),
		jpegFrame(t, 16, 12, color.Gray{Y: 128}),
		jpegFrame(t, 24, 18, color.Black),
	)
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, contentType, body)
	src, err := OpenMJPEG(t.Context(), mock, "http://car.local:8080/?action=stream")
	require.NoError(t, err)
	defer src.Close()

	// all three parts are buffered before the first read
	<-src.done
	img, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 24, 18), img.Bounds())

	_, err = src.Read()
	assert.ErrorIs(t, err, ErrNoFrame, "queued frames are not replayed")
}

func TestOpenMJPEG_Errors(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	_, err := OpenMJPEG(t.Context(), notFound.Client(), notFound.URL)
	assert.ErrorContains(t, err, "unexpected status")

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpegFrame(t, 4, 4, color.White))
	}))
	defer plain.Close()
	_, err = OpenMJPEG(t.Context(), plain.Client(), plain.URL)
	assert.ErrorContains(t, err, "not an mjpeg stream")
}

func TestOpenMJPEG_MockClient(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddErrorResponse(errors.New("connection refused"))
	_, err := OpenMJPEG(t.Context(), mock, "http://car.local:8080/?action=stream")
	assert.ErrorContains(t, err, "connection refused")

	body, contentType := multipartBody(t, jpegFrame(t, 8, 6, color.Black))
	mock.AddResponse(http.StatusOK, contentType, body)
	src, err := OpenMJPEG(t.Context(), mock, "http://car.local:8080/?action=stream")
	require.NoError(t, err)
	defer src.Close()

	img, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
	_, err = src.Read()
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Equal(t, 2, mock.RequestCount())
}

func TestMJPEGSource_BadJPEG(t *testing.T) {
	srv := mjpegServer(t, [][]byte{[]byte("not a jpeg")})
	defer srv.Close()

	src, err := OpenMJPEG(t.Context(), srv.Client(), srv.URL)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Read()
	assert.ErrorContains(t, err, "decode frame")
}

func TestPatternSource(t *testing.T) {
	p := NewPatternSource(16, 8)
	a, err := p.Read()
	require.NoError(t, err)
	b, err := p.Read()
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 16, 8), a.Bounds())
	assert.NotEqual(t, a.At(0, 0), b.At(0, 0), "pattern should move between frames")
	assert.Equal(t, 2, p.Frames())
	assert.Equal(t, "pattern 16x8", p.Name())

	d := NewPatternSource(0, 0)
	img, _ := d.Read()
	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())
}

type brokenSource struct{ closed bool }

func (b *brokenSource) Read() (image.Image, error) { return nil, ErrNoFrame }
func (b *brokenSource) Close() error               { b.closed = true; return nil }
func (b *brokenSource) Name() string               { return "broken" }

func TestOpenWithFallback(t *testing.T) {
	t.Run("primary works", func(t *testing.T) {
		var tried []int
		src, err := OpenWithFallback(func(i int) (Source, error) {
			tried = append(tried, i)
			return NewPatternSource(8, 8), nil
		}, 0, 1)
		require.NoError(t, err)
		assert.NotNil(t, src)
		assert.Equal(t, []int{0}, tried)
	})

	t.Run("falls back once", func(t *testing.T) {
		var tried []int
		src, err := OpenWithFallback(func(i int) (Source, error) {
			tried = append(tried, i)
			if i == 0 {
				return nil, errors.New("no device")
			}
			return NewPatternSource(8, 8), nil
		}, 0, 1)
		require.NoError(t, err)
		assert.NotNil(t, src)
		assert.Equal(t, []int{0, 1}, tried)
	})

	t.Run("opens but yields no frame", func(t *testing.T) {
		broken := &brokenSource{}
		_, err := OpenWithFallback(func(i int) (Source, error) {
			return broken, nil
		}, 1, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoFrame)
		assert.True(t, broken.closed)
	})

	t.Run("both fail", func(t *testing.T) {
		var tried []int
		_, err := OpenWithFallback(func(i int) (Source, error) {
			tried = append(tried, i)
			return nil, fmt.Errorf("device %d missing", i)
		}, 0, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device 0 missing")
		assert.Contains(t, err.Error(), "device 1 missing")
		assert.Equal(t, []int{0, 1}, tried)
	})
}
