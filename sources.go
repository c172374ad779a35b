package imageuploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/utils"
)

// ── Source constructors ───────────────────────────────────────────────────────

// FromBytes wraps an in-memory image, e.g. pasted from a clipboard.  The
// content type is sniffed from the bytes.
func FromBytes(data []byte, name string) core.Source {
	return core.Source{
		Reader:      bytes.NewReader(data),
		ContentType: sniffContentType(data),
		Name:        name,
		Size:        int64(len(data)),
	}
}

// FromReader creates a Source with caller-supplied hints.  size may be -1.
func FromReader(r io.Reader, contentType, name string, size int64) core.Source {
	return core.Source{Reader: r, ContentType: contentType, Name: name, Size: size}
}

// FromFile opens path.  The content type comes from the extension, or from
// the leading bytes when the extension is unknown; the caller closes the
// returned Closer once the upload has finished.
func FromFile(p string) (core.Source, io.Closer, error) {
	f, err := os.Open(p)
	if err != nil {
		return core.Source{}, nil, apperrors.Wrap(apperrors.CategoryInput, "source.file", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return core.Source{}, nil, apperrors.Wrap(apperrors.CategoryInput, "source.file", err)
	}
	var r io.Reader = f
	ct := mime.TypeByExtension(filepath.Ext(p))
	if ct == "" {
		if ct, r, err = sniffReader(f); err != nil {
			f.Close()
			return core.Source{}, nil, apperrors.Wrap(apperrors.CategoryInput, "source.file", err)
		}
	}
	return core.Source{
		Reader:      r,
		ContentType: ct,
		Name:        filepath.Base(p),
		Size:        st.Size(),
	}, f, nil
}

// FromURL fetches rawURL with client (http.DefaultClient when nil).  The body
// is streamed, so the preprocessor's input ceiling still applies.
func FromURL(ctx context.Context, client *http.Client, rawURL string) (core.Source, io.Closer, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return core.Source{}, nil, apperrors.New(apperrors.CategoryInput, "source.url",
			fmt.Errorf("not an http(s) url: %q", rawURL))
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return core.Source{}, nil, apperrors.Wrap(apperrors.CategoryInput, "source.url", err)
	}
	req.Header.Set("Accept", "image/*")
	resp, err := client.Do(req)
	if err != nil {
		return core.Source{}, nil, apperrors.Wrap(apperrors.CategoryInput, "source.url", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return core.Source{}, nil, apperrors.New(apperrors.CategoryInput, "source.url",
			fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode))
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = ""
	}
	var body io.Reader = resp.Body
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		if ct, body, err = sniffReader(resp.Body); err != nil {
			resp.Body.Close()
			return core.Source{}, nil, apperrors.Wrap(apperrors.CategoryInput, "source.url", err)
		}
	}
	return core.Source{
		Reader:      body,
		ContentType: ct,
		Name:        name,
		Size:        resp.ContentLength,
	}, resp.Body, nil
}

// sniffReader detects the content type from r's first bytes and returns a
// reader that still yields them.
func sniffReader(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]
	return sniffContentType(head), io.MultiReader(bytes.NewReader(head), r), nil
}

func sniffContentType(data []byte) string {
	switch f := core.Format(utils.DetectFormat(data)); f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return f.MIMEType()
	}
	return http.DetectContentType(data)
}
